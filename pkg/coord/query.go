package coord

import (
	"time"

	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/projection"
	"github.com/daviddao/threadmill/pkg/temperature"
)

// Queries take the read lock and return copies.

func (a *Aggregate) GetThread(id string) (*model.Thread, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.Thread(id)
}

func (a *Aggregate) Threads() []*model.Thread {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.Threads()
}

func (a *Aggregate) ThreadsByState(s model.ThreadState) []*model.Thread {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.ThreadsByState(s)
}

// AvailableThreads returns unclaimed, claimable threads in creation order.
func (a *Aggregate) AvailableThreads() []*model.Thread {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.AvailableThreads()
}

// ThreadsByTemperature returns every thread, hottest stored value first.
func (a *Aggregate) ThreadsByTemperature() []*model.Thread {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.ThreadsByTemperature()
}

func (a *Aggregate) Agents() []*model.Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.AgentList()
}

func (a *Aggregate) AgentsOfType(typ model.AgentType) []*model.Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.AgentsOfType(typ)
}

func (a *Aggregate) IdleAgents() []*model.Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.IdleAgents()
}

func (a *Aggregate) WorkingAgents() []*model.Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.WorkingAgents()
}

// FindIdle returns an idle agent of typ, earliest registered first.
func (a *Aggregate) FindIdle(typ model.AgentType) (*model.Agent, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.FindIdle(typ)
}

// AgentOnThread returns the agent whose current thread is threadID.
func (a *Aggregate) AgentOnThread(threadID string) (*model.Agent, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.AgentOnThread(threadID)
}

func (a *Aggregate) Agent(id string) (*model.Agent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.Agent(id)
}

// Authenticate returns the active agent holding token.
func (a *Aggregate) Authenticate(token string) (*model.Agent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ag, err := a.proj.Agents().Authenticate(token)
	if err != nil {
		return nil, err
	}
	return ag.Clone(), nil
}

// OpenEscalations returns unresolved escalations, most urgent first.
func (a *Aggregate) OpenEscalations() []*model.Escalation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.OpenEscalations()
}

func (a *Aggregate) AllEscalations() []*model.Escalation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.AllEscalations()
}

func (a *Aggregate) Inbox(agentID string, unreadOnly bool) []*model.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.Inbox(agentID, unreadOnly)
}

func (a *Aggregate) Artifacts() []*model.Artifact {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.Artifacts()
}

// EventsSince returns the held events with sequence > seq.
func (a *Aggregate) EventsSince(seq int64) []event.Event {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.log.After(seq)
}

// CurrentSequence returns the sequence of the last applied event.
func (a *Aggregate) CurrentSequence() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.log.Current()
}

func (a *Aggregate) IsPaused() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	paused, _ := a.proj.Paused()
	return paused
}

func (a *Aggregate) Stats() projection.Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.Stats()
}

// Snapshot captures the current state for persistence or comparison.
func (a *Aggregate) Snapshot() projection.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj.Snapshot()
}

// Band classifies a thread's stored temperature.
func (a *Aggregate) Band(t *model.Thread) temperature.Band {
	return t.Temperature.Band(a.thresholds)
}

// Thresholds returns the configured band thresholds.
func (a *Aggregate) Thresholds() temperature.Thresholds { return a.thresholds }

// Coefficients returns the configured temperature coefficients.
func (a *Aggregate) Coefficients() temperature.Coefficients { return a.coeff }

// LastReport returns the result of the most recent maintenance pass.
func (a *Aggregate) LastReport() Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastReport
}

// Now reads the aggregate's wall clock.
func (a *Aggregate) Now() time.Time { return a.wall.Now() }
