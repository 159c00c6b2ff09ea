// Package projection derives the read model by folding events.
//
// Apply is the only place payloads are interpreted. It is a pure
// function of the current state and the event: every timestamp it
// records comes from the event, never from a clock. Each event touches
// its entities through clones that are swapped in only after every
// check has passed, so a rejected event leaves no trace.
package projection

import (
	"fmt"
	"slices"

	"github.com/daviddao/threadmill/pkg/escalation"
	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/registry"
)

// Projection is the folded state of one project. Not goroutine-safe;
// the aggregate guards it.
type Projection struct {
	threads     map[string]*model.Thread
	threadOrder []string

	agents      *registry.Registry
	escalations *escalation.Tracker

	messages     map[string]*model.Message
	messageOrder []string
	artifacts    map[string]*model.Artifact

	paused       bool
	pauseReason  string
	sequence     int64
	lastSnapshot int64
}

// New returns an empty projection.
func New() *Projection {
	return &Projection{
		threads:     make(map[string]*model.Thread),
		agents:      registry.New(),
		escalations: escalation.New(),
		messages:    make(map[string]*model.Message),
		artifacts:   make(map[string]*model.Artifact),
	}
}

// Sequence returns the sequence of the last folded event.
func (p *Projection) Sequence() int64 { return p.sequence }

// Paused reports the cached pause flag and its reason.
func (p *Projection) Paused() (bool, string) { return p.paused, p.pauseReason }

// Apply folds e. The event must carry the sequence directly after the
// last one folded.
func (p *Projection) Apply(e event.Event) error {
	if e.Sequence != p.sequence+1 {
		return p.fail(e, fmt.Errorf("%w: got %d, want %d", model.ErrInvalidSequence, e.Sequence, p.sequence+1))
	}
	if err := e.Validate(); err != nil {
		return p.fail(e, fmt.Errorf("%w: %v", model.ErrInvalidCommand, err))
	}
	if err := p.fold(e); err != nil {
		return p.fail(e, err)
	}
	p.sequence = e.Sequence
	return nil
}

func (p *Projection) fail(e event.Event, err error) error {
	return &model.ProjectionError{Sequence: e.Sequence, Kind: string(e.Kind()), Err: err}
}

func (p *Projection) fold(e event.Event) error {
	at := e.Timestamp
	switch pl := e.Payload.(type) {

	// --- Thread ---

	case event.ThreadCreated:
		if _, exists := p.threads[e.EntityID]; exists {
			return fmt.Errorf("%w: thread %q exists", model.ErrInvalidCommand, e.EntityID)
		}
		if pl.Title == "" {
			return fmt.Errorf("%w: thread title is empty", model.ErrInvalidCommand)
		}
		p.threads[e.EntityID] = model.NewThread(e.EntityID, pl.Metadata(), at)
		p.threadOrder = append(p.threadOrder, e.EntityID)
		return nil

	case event.ThreadStateChanged:
		return p.updateThread(e.EntityID, func(t *model.Thread) error {
			if t.State != pl.From {
				return fmt.Errorf("%w: thread %q is %s, event expects %s", model.ErrInvalidTransition, t.ID, t.State, pl.From)
			}
			if pl.To.IsTerminal() {
				if err := p.checkDetached(t); err != nil {
					return err
				}
			}
			return t.Transition(pl.To, at)
		})

	case event.ThreadClaimed:
		if pl.AgentID == "" {
			return fmt.Errorf("%w: claim without agent", model.ErrInvalidCommand)
		}
		return p.updateThread(e.EntityID, func(t *model.Thread) error {
			if a, err := p.agents.Get(pl.AgentID); err == nil {
				if a.Status != model.Working || a.CurrentThread != t.ID {
					return &model.AgentStatusError{AgentID: a.ID, Status: a.Status, Op: "claim " + t.ID + " without assignment"}
				}
			} else if other, ok := p.agents.FindByThread(t.ID); ok {
				return &model.ClaimError{ThreadID: t.ID, AgentID: pl.AgentID, HeldBy: other.ID, State: t.State, Err: model.ErrAlreadyClaimed}
			}
			return t.Claim(pl.AgentID, at)
		})

	case event.ThreadReleased:
		return p.updateThread(e.EntityID, func(t *model.Thread) error {
			if pl.AgentID != "" && t.ClaimedBy != "" && pl.AgentID != t.ClaimedBy {
				return fmt.Errorf("%w: thread %q is held by %s, not %s", model.ErrNotAuthorized, t.ID, t.ClaimedBy, pl.AgentID)
			}
			t.Release(at)
			return nil
		})

	case event.ThreadTemperatureChanged:
		if err := pl.New.Validate(); err != nil {
			return fmt.Errorf("%w: %v", model.ErrInvalidCommand, err)
		}
		return p.updateThread(e.EntityID, func(t *model.Thread) error {
			t.Temperature = pl.New
			t.Touch(at)
			return nil
		})

	case event.ThreadMerged:
		if pl.SourceID == e.EntityID {
			return fmt.Errorf("%w: thread %q merged into itself", model.ErrInvalidCommand, pl.SourceID)
		}
		target, err := p.threadClone(e.EntityID)
		if err != nil {
			return err
		}
		source, err := p.threadClone(pl.SourceID)
		if err != nil {
			return err
		}
		if source.MergedInto != "" {
			return fmt.Errorf("%w: thread %q already merged into %q", model.ErrInvalidCommand, source.ID, source.MergedInto)
		}
		if err := p.checkDetached(source); err != nil {
			return err
		}
		target.Absorb(source, at)
		source.MergedInto = target.ID
		source.Touch(at)
		p.threads[target.ID] = target
		p.threads[source.ID] = source
		return nil

	case event.ThreadArtifactAdded:
		if _, ok := p.artifacts[pl.ArtifactID]; !ok {
			return fmt.Errorf("%w: artifact %q", model.ErrInvalidCommand, pl.ArtifactID)
		}
		return p.updateThread(e.EntityID, func(t *model.Thread) error {
			t.AddArtifact(pl.ArtifactID, at)
			return nil
		})

	// --- Agent ---

	case event.AgentRegistered:
		if _, err := model.ParseAgentType(string(pl.AgentType)); err != nil {
			return err
		}
		if p.agents.TokenInUse(pl.TokenDigest) {
			return fmt.Errorf("%w: token already held by another agent", model.ErrNotAuthorized)
		}
		a := model.NewAgent(e.EntityID, pl.AgentType, pl.TokenDigest, at)
		if len(pl.Metadata) > 0 {
			a.Metadata = make(map[string]string, len(pl.Metadata))
			for k, v := range pl.Metadata {
				a.Metadata[k] = v
			}
		}
		return p.agents.Register(a)

	case event.AgentStatusChanged:
		return p.updateAgent(e.EntityID, func(a *model.Agent) error {
			if a.Status != pl.From {
				return fmt.Errorf("%w: agent %q is %s, event expects %s", model.ErrAgentBusy, a.ID, a.Status, pl.From)
			}
			var err error
			switch pl.Transition {
			case event.AgentAssigned:
				if err = p.checkAssignable(a.ID, pl.ThreadID); err == nil {
					err = a.Assign(pl.ThreadID, at)
				}
			case event.AgentCompleted:
				if err = p.checkUnclaimed(a); err == nil {
					err = a.CompleteThread(at)
				}
			case event.AgentUnassigned:
				if err = p.checkUnclaimed(a); err == nil {
					err = a.Unassign(at)
				}
			case event.AgentPaused:
				err = a.Pause(at)
			case event.AgentResumed:
				err = a.Resume(at)
			default:
				err = fmt.Errorf("%w: unknown agent transition %q", model.ErrInvalidCommand, pl.Transition)
			}
			if err != nil {
				return err
			}
			if a.Status != pl.To {
				return fmt.Errorf("%w: agent %q ended %s, event expects %s", model.ErrAgentBusy, a.ID, a.Status, pl.To)
			}
			return nil
		})

	case event.AgentTerminated:
		return p.updateAgent(e.EntityID, func(a *model.Agent) error {
			for _, id := range p.threadOrder {
				if p.threads[id].ClaimedBy == a.ID {
					return fmt.Errorf("%w: agent %q still claims thread %q", model.ErrInvalidCommand, a.ID, id)
				}
			}
			return a.Terminate(at)
		})

	// --- Message ---

	case event.MessageSent:
		if _, exists := p.messages[e.EntityID]; exists {
			return fmt.Errorf("%w: message %q exists", model.ErrInvalidCommand, e.EntityID)
		}
		p.messages[e.EntityID] = &model.Message{
			ID:     e.EntityID,
			From:   pl.From,
			To:     pl.To,
			Body:   pl.Body,
			SentAt: at,
		}
		p.messageOrder = append(p.messageOrder, e.EntityID)
		return nil

	case event.MessageRead:
		m, ok := p.messages[e.EntityID]
		if !ok {
			return fmt.Errorf("%w: message %q", model.ErrInvalidCommand, e.EntityID)
		}
		if !m.Read() {
			cp := *m
			cp.ReadAt = at
			p.messages[e.EntityID] = &cp
		}
		return nil

	// --- Escalation ---

	case event.EscalationCreated:
		if pl.Priority < model.Low || pl.Priority > model.Critical {
			return fmt.Errorf("%w: priority %d", model.ErrInvalidCommand, int(pl.Priority))
		}
		return p.escalations.Add(&model.Escalation{
			ID:          e.EntityID,
			Category:    pl.Category,
			Title:       pl.Title,
			Description: pl.Details,
			ReporterID:  pl.ReporterID,
			Priority:    pl.Priority,
			Status:      model.EscalationOpen,
			CreatedAt:   at,
		})

	case event.EscalationAcknowledged:
		return p.updateEscalation(e.EntityID, func(x *model.Escalation) error {
			return x.Acknowledge(pl.By, at)
		})

	case event.EscalationResolved:
		return p.updateEscalation(e.EntityID, func(x *model.Escalation) error {
			return x.Resolve(pl.By, pl.Resolution, at)
		})

	// --- Artifact ---

	case event.ArtifactCreated:
		if _, exists := p.artifacts[e.EntityID]; exists {
			return fmt.Errorf("%w: artifact %q exists", model.ErrInvalidCommand, e.EntityID)
		}
		p.artifacts[e.EntityID] = &model.Artifact{
			ID:         e.EntityID,
			ThreadID:   pl.ThreadID,
			Kind:       pl.ArtifactKind,
			Path:       pl.Path,
			Summary:    pl.Summary,
			CreatedBy:  e.ActorID,
			CreatedAt:  at,
			ModifiedAt: at,
			Revision:   1,
		}
		return nil

	case event.ArtifactModified:
		a, ok := p.artifacts[e.EntityID]
		if !ok {
			return fmt.Errorf("%w: artifact %q", model.ErrInvalidCommand, e.EntityID)
		}
		cp := *a
		if pl.Path != "" {
			cp.Path = pl.Path
		}
		if pl.Summary != "" {
			cp.Summary = pl.Summary
		}
		cp.Revision++
		cp.ModifiedAt = at
		p.artifacts[e.EntityID] = &cp
		return nil

	// --- System ---

	case event.SystemPaused:
		p.paused = true
		p.pauseReason = pl.Reason
		return nil

	case event.SystemResumed:
		p.paused = false
		p.pauseReason = ""
		return nil

	case event.SnapshotCreated:
		p.lastSnapshot = pl.Sequence
		return nil

	default:
		return fmt.Errorf("%w: unhandled payload %T", model.ErrInvalidCommand, e.Payload)
	}
}

// A registered agent works on a thread in two steps: it is assigned,
// then it claims. Release undoes them in reverse. The checks below keep
// every thread claimed by a registered agent paired with that agent's
// assignment, whatever order raw events arrive in.

// checkAssignable rejects assigning agentID to a thread it could not
// claim, or one another agent is already assigned to.
func (p *Projection) checkAssignable(agentID, threadID string) error {
	t, ok := p.threads[threadID]
	if !ok {
		return model.NotFound(model.ErrThreadNotFound, threadID)
	}
	if err := t.CheckClaim(agentID); err != nil {
		return err
	}
	if other, ok := p.agents.FindByThread(threadID); ok && other.ID != agentID {
		return &model.ClaimError{ThreadID: t.ID, AgentID: agentID, HeldBy: other.ID, State: t.State, Err: model.ErrAlreadyClaimed}
	}
	return nil
}

// checkUnclaimed rejects detaching a from a thread it still claims.
func (p *Projection) checkUnclaimed(a *model.Agent) error {
	if t, ok := p.threads[a.CurrentThread]; ok && t.ClaimedBy == a.ID {
		return fmt.Errorf("%w: agent %q still claims thread %q", model.ErrInvalidCommand, a.ID, t.ID)
	}
	return nil
}

// checkDetached rejects ending or merging away t while it is claimed
// or an agent is assigned to it.
func (p *Projection) checkDetached(t *model.Thread) error {
	if t.ClaimedBy != "" {
		return fmt.Errorf("%w: thread %q is still claimed by %s", model.ErrInvalidCommand, t.ID, t.ClaimedBy)
	}
	if a, ok := p.agents.FindByThread(t.ID); ok {
		return fmt.Errorf("%w: agent %q is still assigned to thread %q", model.ErrInvalidCommand, a.ID, t.ID)
	}
	return nil
}

func (p *Projection) threadClone(id string) (*model.Thread, error) {
	t, ok := p.threads[id]
	if !ok {
		return nil, model.NotFound(model.ErrThreadNotFound, id)
	}
	return t.Clone(), nil
}

func (p *Projection) updateThread(id string, fn func(*model.Thread) error) error {
	t, err := p.threadClone(id)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	p.threads[id] = t
	return nil
}

func (p *Projection) updateAgent(id string, fn func(*model.Agent) error) error {
	a, err := p.agents.Get(id)
	if err != nil {
		return err
	}
	cp := a.Clone()
	if err := fn(cp); err != nil {
		return err
	}
	return p.agents.Replace(cp)
}

func (p *Projection) updateEscalation(id string, fn func(*model.Escalation) error) error {
	x, err := p.escalations.Get(id)
	if err != nil {
		return err
	}
	cp := *x
	if err := fn(&cp); err != nil {
		return err
	}
	return p.escalations.Replace(&cp)
}

// Clone deep-copies p.
func (p *Projection) Clone() *Projection {
	c := &Projection{
		threads:      make(map[string]*model.Thread, len(p.threads)),
		threadOrder:  slices.Clone(p.threadOrder),
		agents:       p.agents.Clone(),
		escalations:  p.escalations.Clone(),
		messages:     make(map[string]*model.Message, len(p.messages)),
		messageOrder: slices.Clone(p.messageOrder),
		artifacts:    make(map[string]*model.Artifact, len(p.artifacts)),
		paused:       p.paused,
		pauseReason:  p.pauseReason,
		sequence:     p.sequence,
		lastSnapshot: p.lastSnapshot,
	}
	for id, t := range p.threads {
		c.threads[id] = t.Clone()
	}
	for id, m := range p.messages {
		cp := *m
		c.messages[id] = &cp
	}
	for id, a := range p.artifacts {
		cp := *a
		c.artifacts[id] = &cp
	}
	return c
}
