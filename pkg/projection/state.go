package projection

import (
	"fmt"

	"github.com/daviddao/threadmill/pkg/model"
)

// State is a plain-value image of a projection. Two projections hold
// the same state exactly when their States are equal, and a State can
// be persisted and loaded back without replaying events.
type State struct {
	Sequence     int64              `json:"sequence"`
	LastSnapshot int64              `json:"last_snapshot,omitempty"`
	Paused       bool               `json:"paused"`
	PauseReason  string             `json:"pause_reason,omitempty"`
	Threads      []model.Thread     `json:"threads"`
	Agents       []model.Agent      `json:"agents"`
	Escalations  []model.Escalation `json:"escalations"`
	Messages     []model.Message    `json:"messages"`
	Artifacts    []model.Artifact   `json:"artifacts"`
}

// Snapshot captures p. Threads and messages keep creation order,
// agents keep registration order.
func (p *Projection) Snapshot() State {
	s := State{
		Sequence:     p.sequence,
		LastSnapshot: p.lastSnapshot,
		Paused:       p.paused,
		PauseReason:  p.pauseReason,
		Threads:      make([]model.Thread, 0, len(p.threads)),
		Agents:       make([]model.Agent, 0, p.agents.Len()),
		Escalations:  make([]model.Escalation, 0, p.escalations.Len()),
		Messages:     make([]model.Message, 0, len(p.messages)),
		Artifacts:    make([]model.Artifact, 0, len(p.artifacts)),
	}
	for _, id := range p.threadOrder {
		s.Threads = append(s.Threads, *p.threads[id].Clone())
	}
	for _, a := range p.agents.All() {
		s.Agents = append(s.Agents, *a.Clone())
	}
	for _, x := range p.escalations.All() {
		s.Escalations = append(s.Escalations, *x)
	}
	for _, id := range p.messageOrder {
		s.Messages = append(s.Messages, *p.messages[id])
	}
	for _, a := range p.Artifacts() {
		s.Artifacts = append(s.Artifacts, *a)
	}
	return s
}

// FromState rebuilds a projection from a snapshot without folding.
func FromState(s State) (*Projection, error) {
	p := New()
	p.sequence = s.Sequence
	p.lastSnapshot = s.LastSnapshot
	p.paused = s.Paused
	p.pauseReason = s.PauseReason

	for i := range s.Threads {
		t := s.Threads[i].Clone()
		if _, dup := p.threads[t.ID]; dup || t.ID == "" {
			return nil, fmt.Errorf("%w: snapshot thread %q", model.ErrInvalidCommand, t.ID)
		}
		if !t.State.Valid() {
			return nil, fmt.Errorf("%w: snapshot thread %q has state %q", model.ErrInvalidCommand, t.ID, t.State)
		}
		p.threads[t.ID] = t
		p.threadOrder = append(p.threadOrder, t.ID)
	}
	for i := range s.Agents {
		if err := p.agents.Register(s.Agents[i].Clone()); err != nil {
			return nil, fmt.Errorf("snapshot agent: %w", err)
		}
	}
	for i := range s.Escalations {
		x := s.Escalations[i]
		if err := p.escalations.Add(&x); err != nil {
			return nil, fmt.Errorf("snapshot escalation: %w", err)
		}
	}
	for i := range s.Messages {
		m := s.Messages[i]
		if _, dup := p.messages[m.ID]; dup || m.ID == "" {
			return nil, fmt.Errorf("%w: snapshot message %q", model.ErrInvalidCommand, m.ID)
		}
		p.messages[m.ID] = &m
		p.messageOrder = append(p.messageOrder, m.ID)
	}
	for i := range s.Artifacts {
		a := s.Artifacts[i]
		if _, dup := p.artifacts[a.ID]; dup || a.ID == "" {
			return nil, fmt.Errorf("%w: snapshot artifact %q", model.ErrInvalidCommand, a.ID)
		}
		p.artifacts[a.ID] = &a
	}
	return p, nil
}
