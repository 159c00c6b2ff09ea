package projection

import (
	"cmp"
	"slices"

	"github.com/daviddao/threadmill/pkg/escalation"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/registry"
)

// Every query below returns copies; callers may keep or modify them.

// Thread returns a copy of thread id.
func (p *Projection) Thread(id string) (*model.Thread, error) {
	t, ok := p.threads[id]
	if !ok {
		return nil, model.NotFound(model.ErrThreadNotFound, id)
	}
	return t.Clone(), nil
}

// HasThread reports whether id exists.
func (p *Projection) HasThread(id string) bool {
	_, ok := p.threads[id]
	return ok
}

// Threads returns every thread in creation order.
func (p *Projection) Threads() []*model.Thread {
	return p.selectThreads(func(*model.Thread) bool { return true })
}

// ThreadsByState returns the threads in state s.
func (p *Projection) ThreadsByState(s model.ThreadState) []*model.Thread {
	return p.selectThreads(func(t *model.Thread) bool { return t.State == s })
}

// AvailableThreads returns the threads that are unclaimed and claimable.
func (p *Projection) AvailableThreads() []*model.Thread {
	return p.selectThreads((*model.Thread).IsAvailable)
}

// ThreadsByTemperature returns every thread, hottest first. Equal
// temperatures keep creation order.
func (p *Projection) ThreadsByTemperature() []*model.Thread {
	out := p.Threads()
	SortByTemperature(out)
	return out
}

// SortByTemperature orders ts hottest first, stable on ties.
func SortByTemperature(ts []*model.Thread) {
	slices.SortStableFunc(ts, func(a, b *model.Thread) int {
		return cmp.Compare(b.Temperature.Value, a.Temperature.Value)
	})
}

func (p *Projection) selectThreads(keep func(*model.Thread) bool) []*model.Thread {
	out := []*model.Thread{}
	for _, id := range p.threadOrder {
		if t := p.threads[id]; keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Agents exposes the registry for read-only lookups by the command
// layer. Mutating it bypasses the event log.
func (p *Projection) Agents() *registry.Registry { return p.agents }

// Agent returns a copy of agent id.
func (p *Projection) Agent(id string) (*model.Agent, error) {
	a, err := p.agents.Get(id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// AgentList returns copies of every agent in registration order.
func (p *Projection) AgentList() []*model.Agent { return cloneAgents(p.agents.All()) }

// AgentsOfType returns copies of the agents of typ.
func (p *Projection) AgentsOfType(typ model.AgentType) []*model.Agent {
	return cloneAgents(p.agents.ByType(typ))
}

func (p *Projection) IdleAgents() []*model.Agent    { return cloneAgents(p.agents.Idle()) }
func (p *Projection) WorkingAgents() []*model.Agent { return cloneAgents(p.agents.Working()) }

// FindIdle returns a copy of an idle agent of typ.
func (p *Projection) FindIdle(typ model.AgentType) (*model.Agent, bool) {
	a, ok := p.agents.FindIdle(typ)
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// AgentOnThread returns a copy of the agent working threadID.
func (p *Projection) AgentOnThread(threadID string) (*model.Agent, bool) {
	a, ok := p.agents.FindByThread(threadID)
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func cloneAgents(in []*model.Agent) []*model.Agent {
	out := make([]*model.Agent, 0, len(in))
	for _, a := range in {
		out = append(out, a.Clone())
	}
	return out
}

// Escalations exposes the escalation table read-only.
func (p *Projection) Escalations() *escalation.Tracker { return p.escalations }

// Escalation returns a copy of escalation id.
func (p *Projection) Escalation(id string) (*model.Escalation, error) {
	x, err := p.escalations.Get(id)
	if err != nil {
		return nil, err
	}
	cp := *x
	return &cp, nil
}

// OpenEscalations returns copies of the unresolved escalations in
// priority order.
func (p *Projection) OpenEscalations() []*model.Escalation {
	return copyEscalations(p.escalations.Open())
}

// AllEscalations returns copies of every escalation in priority order.
func (p *Projection) AllEscalations() []*model.Escalation {
	return copyEscalations(p.escalations.All())
}

func copyEscalations(in []*model.Escalation) []*model.Escalation {
	out := make([]*model.Escalation, 0, len(in))
	for _, x := range in {
		cp := *x
		out = append(out, &cp)
	}
	return out
}

// Message returns a copy of message id.
func (p *Projection) Message(id string) (*model.Message, bool) {
	m, ok := p.messages[id]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// Inbox returns the messages addressed to agentID (or broadcast to
// "*") in send order.
func (p *Projection) Inbox(agentID string, unreadOnly bool) []*model.Message {
	out := []*model.Message{}
	for _, id := range p.messageOrder {
		m := p.messages[id]
		if m.To != agentID && m.To != "*" {
			continue
		}
		if unreadOnly && m.Read() {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out
}

// Artifact returns a copy of artifact id.
func (p *Projection) Artifact(id string) (*model.Artifact, bool) {
	a, ok := p.artifacts[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// Artifacts returns copies of every artifact ordered by id.
func (p *Projection) Artifacts() []*model.Artifact {
	out := make([]*model.Artifact, 0, len(p.artifacts))
	for _, a := range p.artifacts {
		cp := *a
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *model.Artifact) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Stats is a summary of the projection for status displays.
type Stats struct {
	Paused          bool                      `json:"paused"`
	PauseReason     string                    `json:"pause_reason,omitempty"`
	Threads         int                       `json:"threads"`
	ThreadsByState  map[model.ThreadState]int `json:"threads_by_state"`
	Agents          int                       `json:"agents"`
	ActiveAgents    int                       `json:"active_agents"`
	OpenEscalations int                       `json:"open_escalations"`
	UnreadMessages  int                       `json:"unread_messages"`
	Sequence        int64                     `json:"sequence"`
	LastSnapshot    int64                     `json:"last_snapshot,omitempty"`
}

// Stats counts the projection's contents.
func (p *Projection) Stats() Stats {
	s := Stats{
		Paused:          p.paused,
		PauseReason:     p.pauseReason,
		Threads:         len(p.threads),
		ThreadsByState:  make(map[model.ThreadState]int),
		Agents:          p.agents.Len(),
		ActiveAgents:    len(p.agents.Active()),
		OpenEscalations: p.escalations.OpenCount(),
		Sequence:        p.sequence,
		LastSnapshot:    p.lastSnapshot,
	}
	for _, t := range p.threads {
		s.ThreadsByState[t.State]++
	}
	for _, m := range p.messages {
		if !m.Read() {
			s.UnreadMessages++
		}
	}
	return s
}
