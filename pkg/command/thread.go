package command

import (
	"fmt"
	"math"
	"time"

	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/projection"
	"github.com/daviddao/threadmill/pkg/temperature"
)

// CreateThread starts a new thread in Embryo.
type CreateThread struct {
	Meta
	ID          string
	Title       string
	Description string
	Tags        []string
	ParentID    string
	Related     []string
	Extra       map[string]string
}

func (CreateThread) Name() string { return "create_thread" }

func (c CreateThread) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	if err := required("title", c.Title); err != nil {
		return nil, err
	}
	if c.ParentID != "" && !p.HasThread(c.ParentID) {
		return nil, model.NotFound(model.ErrThreadNotFound, c.ParentID)
	}
	id := c.ID
	if id == "" {
		id = env.id("t")
	}
	if p.HasThread(id) {
		return nil, invalid("thread %q already exists", id)
	}
	return drafts(event.NewDraft(id, event.ThreadCreated{
		Title:    c.Title,
		Details:  c.Description,
		Tags:     c.Tags,
		ParentID: c.ParentID,
		Related:  c.Related,
		Extra:    c.Extra,
	})), nil
}

// TransitionThread moves a thread along a lifecycle edge. Entering a
// terminal state releases the claim and frees the claimant.
type TransitionThread struct {
	Meta
	ThreadID string
	To       model.ThreadState
	Reason   string
}

func (TransitionThread) Name() string { return "transition_thread" }

func (c TransitionThread) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	th, err := p.Thread(c.ThreadID)
	if err != nil {
		return nil, err
	}
	if !c.To.Valid() {
		return nil, invalid("unknown state %q", c.To)
	}
	if !th.State.CanTransitionTo(c.To) {
		return nil, &model.TransitionError{ThreadID: th.ID, From: th.State, To: c.To}
	}
	var ds []event.Draft
	if c.To.IsTerminal() {
		ds = releaseClaim(p, th, string(c.To), c.To == model.Complete, env.Now)
	}
	return append(ds, event.NewDraft(th.ID, event.ThreadStateChanged{
		From:   th.State,
		To:     c.To,
		Reason: c.Reason,
	})), nil
}

// ClaimThread gives an agent exclusive hold of a thread. A registered
// agent must be idle; it is assigned to the thread before the claim is
// recorded. Re-claiming a thread the agent already holds is a no-op.
type ClaimThread struct {
	Meta
	ThreadID string
	AgentID  string
}

func (ClaimThread) Name() string { return "claim_thread" }

func (c ClaimThread) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	if paused, reason := p.Paused(); paused {
		return nil, fmt.Errorf("claim %q: %w: %s", c.ThreadID, model.ErrSystemPaused, reason)
	}
	if err := required("agent_id", c.AgentID); err != nil {
		return nil, err
	}
	th, err := p.Thread(c.ThreadID)
	if err != nil {
		return nil, err
	}
	if err := th.CheckClaim(c.AgentID); err != nil {
		return nil, err
	}
	if th.ClaimedBy == c.AgentID {
		return nil, nil
	}
	var ds []event.Draft
	if a, err := p.Agent(c.AgentID); err == nil {
		if a.Status != model.Idle {
			return nil, &model.AgentStatusError{AgentID: a.ID, Status: a.Status, Op: "claim " + th.ID}
		}
		ds = append(ds, event.NewDraft(a.ID, event.AgentStatusChanged{
			From:       model.Idle,
			To:         model.Working,
			Transition: event.AgentAssigned,
			ThreadID:   th.ID,
		}))
	}
	return append(ds, event.NewDraft(th.ID, event.ThreadClaimed{AgentID: c.AgentID})), nil
}

// ReleaseThread clears a claim. When AgentID is set it must be the
// claimant. Releasing an unclaimed thread succeeds with no events.
type ReleaseThread struct {
	Meta
	ThreadID string
	AgentID  string
	Reason   string
}

func (ReleaseThread) Name() string { return "release_thread" }

func (c ReleaseThread) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	th, err := p.Thread(c.ThreadID)
	if err != nil {
		return nil, err
	}
	if th.ClaimedBy == "" {
		return nil, nil
	}
	if c.AgentID != "" && c.AgentID != th.ClaimedBy {
		return nil, fmt.Errorf("release %q: %w: held by %s, not %s", th.ID, model.ErrNotAuthorized, th.ClaimedBy, c.AgentID)
	}
	return releaseClaim(p, th, c.Reason, false, env.Now), nil
}

// releaseClaim drafts the release of th's claim and, when the claimant
// is a registered agent working on th, frees that agent. completed
// counts the thread towards the agent's total.
func releaseClaim(p *projection.Projection, th *model.Thread, reason string, completed bool, now time.Time) []event.Draft {
	if th.ClaimedBy == "" {
		return nil
	}
	ds := drafts(event.NewDraft(th.ID, event.ThreadReleased{AgentID: th.ClaimedBy, Reason: reason}))
	if d, ok := detachAgent(p, th.ClaimedBy, th.ID, completed, now); ok {
		ds = append(ds, d)
	}
	return ds
}

func detachAgent(p *projection.Projection, agentID, threadID string, completed bool, now time.Time) (event.Draft, bool) {
	a, err := p.Agent(agentID)
	if err != nil || a.CurrentThread != threadID {
		return event.Draft{}, false
	}
	from := a.Status
	transition := event.AgentUnassigned
	if completed && a.Status == model.Working {
		transition = event.AgentCompleted
		err = a.CompleteThread(now)
	} else {
		err = a.Unassign(now)
	}
	if err != nil {
		return event.Draft{}, false
	}
	return event.NewDraft(a.ID, event.AgentStatusChanged{From: from, To: a.Status, Transition: transition}), true
}

// RecordActivity warms a thread by α·Weight.
type RecordActivity struct {
	Meta
	ThreadID string
	Weight   float64
}

func (RecordActivity) Name() string { return "record_activity" }

func (c RecordActivity) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	if math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) || c.Weight < 0 {
		return nil, invalid("weight must be a finite value >= 0, got %v", c.Weight)
	}
	return adjustTemperature(p, env, c.ThreadID, "activity", func(t *temperature.Temperature) {
		t.RecordActivity(c.Weight, env.Coefficients, env.Now)
	})
}

// RecordBreakthrough sets the breakthrough signal of a thread.
type RecordBreakthrough struct {
	Meta
	ThreadID string
	Strength float64
}

func (RecordBreakthrough) Name() string { return "record_breakthrough" }

func (c RecordBreakthrough) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	if err := unitInterval("strength", c.Strength); err != nil {
		return nil, err
	}
	return adjustTemperature(p, env, c.ThreadID, "breakthrough", func(t *temperature.Temperature) {
		t.RecordBreakthrough(c.Strength, env.Coefficients, env.Now)
	})
}

// BoostThread applies a human boost to a thread.
type BoostThread struct {
	Meta
	ThreadID string
	Boost    float64
}

func (BoostThread) Name() string { return "boost_thread" }

func (c BoostThread) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	if err := unitInterval("boost", c.Boost); err != nil {
		return nil, err
	}
	return adjustTemperature(p, env, c.ThreadID, "human boost", func(t *temperature.Temperature) {
		t.ApplyHumanBoost(c.Boost, env.Coefficients, env.Now)
	})
}

// adjustTemperature decays the stored temperature to env.Now, applies
// fn and drafts the complete result.
func adjustTemperature(p *projection.Projection, env Env, threadID, reason string, fn func(*temperature.Temperature)) ([]event.Draft, error) {
	th, err := p.Thread(threadID)
	if err != nil {
		return nil, err
	}
	t := th.Temperature
	t.DecayTo(env.Now, env.Coefficients)
	fn(&t)
	return drafts(event.NewDraft(th.ID, event.ThreadTemperatureChanged{
		Old:    th.Temperature.Value,
		New:    t,
		Reason: reason,
	})), nil
}

// DecayThread brings a thread's stored temperature up to env.Now. It
// emits nothing when the value would move by DecayEpsilon or less.
type DecayThread struct {
	Meta
	ThreadID string
}

func (DecayThread) Name() string { return "decay_thread" }

func (c DecayThread) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	th, err := p.Thread(c.ThreadID)
	if err != nil {
		return nil, err
	}
	t := th.Temperature
	t.DecayTo(env.Now, env.Coefficients)
	if math.Abs(t.Value-th.Temperature.Value) <= DecayEpsilon {
		return nil, nil
	}
	return drafts(event.NewDraft(th.ID, event.ThreadTemperatureChanged{
		Old:    th.Temperature.Value,
		New:    t,
		Reason: "decay",
	})), nil
}

// MergeThreads folds Source into Target. The source's claim is
// released and, where its state allows, it is killed.
type MergeThreads struct {
	Meta
	SourceID string
	TargetID string
}

func (MergeThreads) Name() string { return "merge_threads" }

func (c MergeThreads) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	if c.SourceID == c.TargetID {
		return nil, invalid("cannot merge thread %q into itself", c.SourceID)
	}
	target, err := p.Thread(c.TargetID)
	if err != nil {
		return nil, err
	}
	source, err := p.Thread(c.SourceID)
	if err != nil {
		return nil, err
	}
	if target.State.IsTerminal() {
		return nil, invalid("merge target %q is %s", target.ID, target.State)
	}
	if target.MergedInto != "" {
		return nil, invalid("merge target %q was merged into %q", target.ID, target.MergedInto)
	}
	if source.MergedInto != "" {
		return nil, invalid("thread %q already merged into %q", source.ID, source.MergedInto)
	}
	ds := releaseClaim(p, source, "merged into "+target.ID, false, env.Now)
	ds = append(ds, event.NewDraft(target.ID, event.ThreadMerged{SourceID: source.ID}))
	if source.State.CanTransitionTo(model.Killed) {
		ds = append(ds, event.NewDraft(source.ID, event.ThreadStateChanged{
			From:   source.State,
			To:     model.Killed,
			Reason: "merged into " + target.ID,
		}))
	}
	return ds, nil
}
