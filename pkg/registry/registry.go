// Package registry tracks registered agents in registration order.
//
// The registry owns its agents. Query helpers return the registry's own
// records so the projection can mutate them in place; anything handed
// outside the projection must be cloned first.
//
// Auto-generated ids take the form "{type}-{n}". The per-type counter
// only ever grows, so an id is never handed out twice even after the
// agent holding it is unregistered.
package registry

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/daviddao/threadmill/pkg/model"
)

// Registry is an ordered set of agents. Not goroutine-safe.
type Registry struct {
	agents   map[string]*model.Agent
	order    []string
	counters map[model.AgentType]int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		agents:   make(map[string]*model.Agent),
		counters: make(map[model.AgentType]int),
	}
}

// Digest returns the hex BLAKE3 digest of an auth token. The empty
// token has no digest.
func Digest(token string) string {
	if token == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Register adds a. It fails if the id is taken.
func (r *Registry) Register(a *model.Agent) error {
	if a.ID == "" {
		return fmt.Errorf("%w: agent id is empty", model.ErrInvalidCommand)
	}
	if _, ok := r.agents[a.ID]; ok {
		return fmt.Errorf("%w: %q", model.ErrAgentAlreadyRegistered, a.ID)
	}
	r.agents[a.ID] = a
	r.order = append(r.order, a.ID)
	r.observe(a.Type, a.ID)
	return nil
}

// observe advances the counter for typ past an explicit "{type}-{n}" id.
func (r *Registry) observe(typ model.AgentType, id string) {
	rest, ok := strings.CutPrefix(id, string(typ)+"-")
	if !ok {
		return
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return
	}
	if n > r.counters[typ] {
		r.counters[typ] = n
	}
}

// NextID returns the id Create would assign for typ, without
// consuming it.
func (r *Registry) NextID(typ model.AgentType) string {
	for n := r.counters[typ] + 1; ; n++ {
		id := fmt.Sprintf("%s-%d", typ, n)
		if _, taken := r.agents[id]; !taken {
			return id
		}
	}
}

// Create registers a new idle agent of typ under the next generated id.
func (r *Registry) Create(typ model.AgentType, tokenDigest string, at time.Time) (*model.Agent, error) {
	if _, err := model.ParseAgentType(string(typ)); err != nil {
		return nil, err
	}
	a := model.NewAgent(r.NextID(typ), typ, tokenDigest, at)
	if err := r.Register(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns the agent with id.
func (r *Registry) Get(id string) (*model.Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return nil, model.NotFound(model.ErrAgentNotFound, id)
	}
	return a, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.agents[id]
	return ok
}

// Unregister removes id. Its generated id is not reused.
func (r *Registry) Unregister(id string) error {
	if _, ok := r.agents[id]; !ok {
		return model.NotFound(model.ErrAgentNotFound, id)
	}
	delete(r.agents, id)
	r.order = slices.DeleteFunc(r.order, func(x string) bool { return x == id })
	return nil
}

// Len returns the number of registered agents.
func (r *Registry) Len() int { return len(r.order) }

// All returns every agent in registration order.
func (r *Registry) All() []*model.Agent {
	return r.filter(func(*model.Agent) bool { return true })
}

func (r *Registry) filter(keep func(*model.Agent) bool) []*model.Agent {
	var out []*model.Agent
	for _, id := range r.order {
		if a := r.agents[id]; keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// ByType returns the agents of typ.
func (r *Registry) ByType(typ model.AgentType) []*model.Agent {
	return r.filter(func(a *model.Agent) bool { return a.Type == typ })
}

// Idle returns the idle agents.
func (r *Registry) Idle() []*model.Agent {
	return r.filter(func(a *model.Agent) bool { return a.Status == model.Idle })
}

// Working returns the working agents.
func (r *Registry) Working() []*model.Agent {
	return r.filter(func(a *model.Agent) bool { return a.Status == model.Working })
}

// Active returns the agents that are not terminated.
func (r *Registry) Active() []*model.Agent {
	return r.filter((*model.Agent).IsActive)
}

// FindIdle returns an idle agent of typ. Among several, the earliest
// registered wins; callers should not rely on which.
func (r *Registry) FindIdle(typ model.AgentType) (*model.Agent, bool) {
	for _, id := range r.order {
		if a := r.agents[id]; a.Type == typ && a.Status == model.Idle {
			return a, true
		}
	}
	return nil, false
}

// FindByThread returns the agent whose current thread is threadID.
func (r *Registry) FindByThread(threadID string) (*model.Agent, bool) {
	if threadID == "" {
		return nil, false
	}
	for _, id := range r.order {
		if a := r.agents[id]; a.CurrentThread == threadID {
			return a, true
		}
	}
	return nil, false
}

// Authenticate returns the live agent holding token. Every agent is
// compared so the scan does not leak which prefix matched.
func (r *Registry) Authenticate(token string) (*model.Agent, error) {
	want := Digest(token)
	if want == "" {
		return nil, fmt.Errorf("%w: empty token", model.ErrNotAuthorized)
	}
	var found *model.Agent
	for _, id := range r.order {
		a := r.agents[id]
		if a.TokenDigest == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(a.TokenDigest), []byte(want)) == 1 && found == nil {
			found = a
		}
	}
	if found == nil || !found.IsActive() {
		return nil, fmt.Errorf("%w: unknown token", model.ErrNotAuthorized)
	}
	return found, nil
}

// TokenInUse reports whether some agent already holds the token with
// this digest.
func (r *Registry) TokenInUse(digest string) bool {
	if digest == "" {
		return false
	}
	for _, a := range r.agents {
		if a.TokenDigest == digest {
			return true
		}
	}
	return false
}

// Assign starts id working on threadID.
func (r *Registry) Assign(id, threadID string, at time.Time) error {
	return r.with(id, func(a *model.Agent) error { return a.Assign(threadID, at) })
}

// CompleteThread finishes id's current thread.
func (r *Registry) CompleteThread(id string, at time.Time) error {
	return r.with(id, func(a *model.Agent) error { return a.CompleteThread(at) })
}

// Unassign drops id's current thread without counting it.
func (r *Registry) Unassign(id string, at time.Time) error {
	return r.with(id, func(a *model.Agent) error { return a.Unassign(at) })
}

// Pause suspends id.
func (r *Registry) Pause(id string, at time.Time) error {
	return r.with(id, func(a *model.Agent) error { return a.Pause(at) })
}

// Resume un-pauses id.
func (r *Registry) Resume(id string, at time.Time) error {
	return r.with(id, func(a *model.Agent) error { return a.Resume(at) })
}

// Terminate retires id for good.
func (r *Registry) Terminate(id string, at time.Time) error {
	return r.with(id, func(a *model.Agent) error { return a.Terminate(at) })
}

func (r *Registry) with(id string, fn func(*model.Agent) error) error {
	a, err := r.Get(id)
	if err != nil {
		return err
	}
	return fn(a)
}

// Clone deep-copies r, counters included.
func (r *Registry) Clone() *Registry {
	c := &Registry{
		agents:   make(map[string]*model.Agent, len(r.agents)),
		order:    slices.Clone(r.order),
		counters: make(map[model.AgentType]int, len(r.counters)),
	}
	for id, a := range r.agents {
		c.agents[id] = a.Clone()
	}
	for t, n := range r.counters {
		c.counters[t] = n
	}
	return c
}

// Replace swaps in a new record for an already registered agent.
func (r *Registry) Replace(a *model.Agent) error {
	if _, ok := r.agents[a.ID]; !ok {
		return model.NotFound(model.ErrAgentNotFound, a.ID)
	}
	r.agents[a.ID] = a
	return nil
}
