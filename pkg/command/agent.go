package command

import (
	"fmt"

	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/projection"
	"github.com/daviddao/threadmill/pkg/registry"
)

// RegisterAgent adds an agent. An empty ID takes the next "{type}-{n}".
// The token is stored only as a digest.
type RegisterAgent struct {
	Meta
	ID       string
	Type     model.AgentType
	Token    string
	Metadata map[string]string
}

func (RegisterAgent) Name() string { return "register_agent" }

func (c RegisterAgent) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	typ, err := model.ParseAgentType(string(c.Type))
	if err != nil {
		return nil, err
	}
	reg := p.Agents()
	id := c.ID
	if id == "" {
		id = reg.NextID(typ)
	}
	if reg.Has(id) {
		return nil, fmt.Errorf("%w: %q", model.ErrAgentAlreadyRegistered, id)
	}
	digest := registry.Digest(c.Token)
	if reg.TokenInUse(digest) {
		return nil, fmt.Errorf("register %q: %w: token already in use", id, model.ErrNotAuthorized)
	}
	return drafts(event.NewDraft(id, event.AgentRegistered{
		AgentType:   typ,
		TokenDigest: digest,
		Metadata:    c.Metadata,
	})), nil
}

// PauseAgent suspends an agent. Its claim, if any, is kept.
type PauseAgent struct {
	Meta
	AgentID string
}

func (PauseAgent) Name() string { return "pause_agent" }

func (c PauseAgent) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	return agentTransition(p, c.AgentID, event.AgentPaused, func(a *model.Agent) error {
		return a.Pause(env.Now)
	})
}

// ResumeAgent returns a paused agent to work.
type ResumeAgent struct {
	Meta
	AgentID string
}

func (ResumeAgent) Name() string { return "resume_agent" }

func (c ResumeAgent) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	return agentTransition(p, c.AgentID, event.AgentResumed, func(a *model.Agent) error {
		return a.Resume(env.Now)
	})
}

// agentTransition runs op on a copy of the agent to learn the target
// status, then drafts the change.
func agentTransition(p *projection.Projection, agentID string, tr event.AgentTransition, op func(*model.Agent) error) ([]event.Draft, error) {
	a, err := p.Agent(agentID)
	if err != nil {
		return nil, err
	}
	from := a.Status
	if err := op(a); err != nil {
		return nil, err
	}
	return drafts(event.NewDraft(a.ID, event.AgentStatusChanged{
		From:       from,
		To:         a.Status,
		Transition: tr,
		ThreadID:   a.CurrentThread,
	})), nil
}

// TerminateAgent retires an agent for good and releases every thread
// it still claims.
type TerminateAgent struct {
	Meta
	AgentID string
	Reason  string
}

func (TerminateAgent) Name() string { return "terminate_agent" }

func (c TerminateAgent) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	a, err := p.Agent(c.AgentID)
	if err != nil {
		return nil, err
	}
	if err := a.Terminate(env.Now); err != nil {
		return nil, err
	}
	var ds []event.Draft
	for _, th := range p.Threads() {
		if th.ClaimedBy == a.ID {
			ds = append(ds, event.NewDraft(th.ID, event.ThreadReleased{AgentID: a.ID, Reason: "agent terminated"}))
		}
	}
	return append(ds, event.NewDraft(a.ID, event.AgentTerminated{Reason: c.Reason})), nil
}
