package coord

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/model"
)

// MaintenanceActor is the actor id stamped on events the maintenance
// pass emits.
const MaintenanceActor = "maintenance"

// Policy controls a maintenance pass.
type Policy struct {
	// ClaimExpiry releases claims untouched for longer. Zero disables.
	ClaimExpiry time.Duration
	// ResponseTime is how long an escalation of each priority may stay
	// unacknowledged.
	ResponseTime map[model.Priority]time.Duration
	// AutoEscalateAfter is the number of consecutive passes an
	// escalation must be overdue before it is reported.
	AutoEscalateAfter int
}

// Overdue is an escalation past its response time.
type Overdue struct {
	EscalationID string         `json:"escalation_id"`
	Title        string         `json:"title"`
	Priority     model.Priority `json:"priority"`
	Age          time.Duration  `json:"age"`
	Cycles       int            `json:"cycles"`
}

// Report summarises one maintenance pass.
type Report struct {
	At      time.Time `json:"at"`
	Decayed int       `json:"decayed"`
	Expired []string  `json:"expired,omitempty"`
	Overdue []Overdue `json:"overdue,omitempty"`
	Events  int       `json:"events"`
}

// Maintain runs one pass at the clock's current time: stale claims are
// released, temperatures are decayed and overdue escalations counted.
// Failures on individual entities are joined; the rest of the pass
// still runs.
func (a *Aggregate) Maintain(p Policy) (Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.wall.Now()
	r := Report{At: now}
	meta := command.Meta{ActorID: MaintenanceActor}
	var errs []error

	if p.ClaimExpiry > 0 {
		for _, th := range a.proj.Threads() {
			if th.ClaimedBy == "" || !a.claimExpired(th, now, p.ClaimExpiry) {
				continue
			}
			evs, err := a.execute(command.ReleaseThread{Meta: meta, ThreadID: th.ID, Reason: "expired"}, now)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			r.Expired = append(r.Expired, th.ID)
			r.Events += len(evs)
			a.logger.Info("claim expired",
				zap.String("thread", th.ID),
				zap.String("agent", th.ClaimedBy),
				zap.Duration("held", now.Sub(th.ClaimedAt)))
		}
	}

	for _, th := range a.proj.Threads() {
		if th.State.IsTerminal() {
			continue
		}
		evs, err := a.execute(command.DecayThread{Meta: meta, ThreadID: th.ID}, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(evs) > 0 {
			r.Decayed++
			r.Events += len(evs)
		}
	}
	if r.Decayed > 0 {
		a.logger.Debug("temperatures decayed", zap.Int("threads", r.Decayed))
	}

	r.Overdue = a.trackOverdue(p, now)
	for _, o := range r.Overdue {
		a.logger.Warn("escalation overdue",
			zap.String("escalation", o.EscalationID),
			zap.Stringer("priority", o.Priority),
			zap.Duration("age", o.Age),
			zap.Int("cycles", o.Cycles))
	}
	a.lastReport = r
	return r, errors.Join(errs...)
}

// claimExpired reports whether neither the claim nor its agent has
// been touched within expiry.
func (a *Aggregate) claimExpired(th *model.Thread, now time.Time, expiry time.Duration) bool {
	last := th.ClaimedAt
	if ag, err := a.proj.Agent(th.ClaimedBy); err == nil && ag.LastActiveAt.After(last) {
		last = ag.LastActiveAt
	}
	return now.Sub(last) > expiry
}

func (a *Aggregate) trackOverdue(p Policy, now time.Time) []Overdue {
	after := max(p.AutoEscalateAfter, 1)
	seen := make(map[string]bool)
	var out []Overdue
	for _, x := range a.proj.OpenEscalations() {
		limit, ok := p.ResponseTime[x.Priority]
		if !ok || limit <= 0 || x.Status != model.EscalationOpen {
			continue
		}
		age := now.Sub(x.CreatedAt)
		if age <= limit {
			continue
		}
		seen[x.ID] = true
		a.overdue[x.ID]++
		if n := a.overdue[x.ID]; n >= after {
			out = append(out, Overdue{EscalationID: x.ID, Title: x.Title, Priority: x.Priority, Age: age, Cycles: n})
		}
	}
	for id := range a.overdue {
		if !seen[id] {
			delete(a.overdue, id)
		}
	}
	return out
}

// RunMaintenance calls Maintain every interval until ctx is done.
func (a *Aggregate) RunMaintenance(ctx context.Context, interval time.Duration, p Policy, after func(Report)) error {
	if interval <= 0 {
		return errors.New("coord: maintenance interval must be positive")
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r, err := a.Maintain(p)
			if err != nil {
				a.logger.Error("maintenance pass", zap.Error(err))
			}
			if after != nil {
				after(r)
			}
		}
	}
}
