package coord

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/daviddao/threadmill/pkg/clock"
	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/projection"
	"github.com/daviddao/threadmill/pkg/temperature"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// instances keeps event ids distinct across aggregates in one test, so
// events restored from one never collide with those another appends.
var instances atomic.Int64

func newTestAggregate(t *testing.T) (*Aggregate, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(t0)
	var ids, evs atomic.Int64
	n := instances.Add(1)
	a := New(
		WithClock(fake),
		WithIDs(func(prefix string) string { return fmt.Sprintf("%s-%d", prefix, ids.Add(1)) }),
		WithEventIDs(func() string { return fmt.Sprintf("ev%d-%d", n, evs.Add(1)) }),
	)
	return a, fake
}

func mustExec(t *testing.T, a *Aggregate, c command.Command) []event.Event {
	t.Helper()
	evs, err := a.Execute(c)
	require.NoError(t, err, c.Name())
	return evs
}

func requireRebuildEquivalent(t *testing.T, a *Aggregate) {
	t.Helper()
	before := a.Snapshot()
	require.NoError(t, a.Rebuild())
	if diff := cmp.Diff(before, a.Snapshot(), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("rebuild diverged (-incremental +rebuilt):\n%s", diff)
	}
}

func TestClaimScenario(t *testing.T) {
	a, _ := newTestAggregate(t)
	mustExec(t, a, command.CreateThread{ID: "intro", Title: "Draft intro"})
	th, err := a.GetThread("intro")
	require.NoError(t, err)
	assert.Equal(t, model.Embryo, th.State)

	mustExec(t, a, command.TransitionThread{ThreadID: "intro", To: model.Active})
	mustExec(t, a, command.RegisterAgent{Type: model.ResearchAgent, Token: "tok-1"})
	mustExec(t, a, command.RegisterAgent{Type: model.ResearchAgent, Token: "tok-2"})

	mustExec(t, a, command.ClaimThread{ThreadID: "intro", AgentID: "research-1"})
	seq := a.CurrentSequence()

	_, err = a.Execute(command.ClaimThread{ThreadID: "intro", AgentID: "research-2"})
	require.ErrorIs(t, err, model.ErrAlreadyClaimed)
	assert.Equal(t, seq, a.CurrentSequence(), "rejected claim must not append")
	th, _ = a.GetThread("intro")
	assert.Equal(t, "research-1", th.ClaimedBy)

	mustExec(t, a, command.ReleaseThread{ThreadID: "intro", AgentID: "research-1"})
	mustExec(t, a, command.ClaimThread{ThreadID: "intro", AgentID: "research-2"})

	th, _ = a.GetThread("intro")
	assert.Equal(t, "research-2", th.ClaimedBy)
	r1, _ := a.Agent("research-1")
	r2, _ := a.Agent("research-2")
	assert.Equal(t, model.Idle, r1.Status)
	assert.Equal(t, model.Working, r2.Status)
	assert.Empty(t, a.AvailableThreads())

	requireRebuildEquivalent(t, a)
}

func TestPausedScenario(t *testing.T) {
	a, _ := newTestAggregate(t)
	e, err := a.ApplyEvent(event.Event{EntityID: event.SystemEntityID, Payload: event.SystemPaused{Reason: "maintenance"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Sequence)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, t0, e.Timestamp)
	assert.True(t, a.IsPaused())

	mustExec(t, a, command.CreateThread{ID: "x", Title: "x"})
	_, err = a.Execute(command.ClaimThread{ThreadID: "x", AgentID: "someone"})
	require.ErrorIs(t, err, model.ErrSystemPaused)

	_, err = a.ApplyEvent(event.Event{EntityID: event.SystemEntityID, Payload: event.SystemResumed{}})
	require.NoError(t, err)
	assert.False(t, a.IsPaused())

	requireRebuildEquivalent(t, a)
	assert.False(t, a.IsPaused())
}

func TestExecuteStampsEvents(t *testing.T) {
	a, fake := newTestAggregate(t)
	mustExec(t, a, command.CreateThread{ID: "t", Title: "t"})
	mustExec(t, a, command.RegisterAgent{ID: "code-1", Type: model.CodeAgent})
	fake.Advance(time.Minute)

	evs := mustExec(t, a, command.ClaimThread{
		Meta:     command.Meta{ActorID: "code-1", CausationID: "req-9"},
		ThreadID: "t",
		AgentID:  "code-1",
	})
	require.Len(t, evs, 2)
	assert.Equal(t, []int64{3, 4}, []int64{evs[0].Sequence, evs[1].Sequence})
	assert.Equal(t, event.KindAgentStatusChanged, evs[0].Kind())
	assert.Equal(t, event.KindThreadClaimed, evs[1].Kind())
	for _, e := range evs {
		assert.Equal(t, "code-1", e.ActorID)
		assert.Equal(t, evs[0].ID, e.CorrelationID)
		assert.Equal(t, t0.Add(time.Minute), e.Timestamp)
	}
	assert.Equal(t, "req-9", evs[0].CausationID)
	assert.Equal(t, evs[0].ID, evs[1].CausationID)

	assert.Equal(t, evs, a.EventsSince(2))
	assert.Len(t, a.EventsSince(0), 4)
}

func TestExecuteNoop(t *testing.T) {
	a, _ := newTestAggregate(t)
	mustExec(t, a, command.CreateThread{ID: "t", Title: "t"})
	mustExec(t, a, command.ClaimThread{ThreadID: "t", AgentID: "x"})
	evs, err := a.Execute(command.ClaimThread{ThreadID: "t", AgentID: "x"})
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.Equal(t, int64(2), a.CurrentSequence())
}

func TestApplyEventRejectsBadEvent(t *testing.T) {
	a, _ := newTestAggregate(t)
	mustExec(t, a, command.CreateThread{ID: "t", Title: "t"})
	before := a.Snapshot()

	_, err := a.ApplyEvent(event.Event{EntityID: "t", Payload: event.ThreadStateChanged{From: model.Active, To: model.Blocked}})
	require.ErrorIs(t, err, model.ErrProjection)

	_, err = a.ApplyEvent(event.Event{EntityID: "t"})
	require.Error(t, err)

	_, err = a.ApplyEvent(event.Event{EntityID: "nope", Payload: event.ThreadClaimed{AgentID: "x"}})
	require.ErrorIs(t, err, model.ErrThreadNotFound)

	assert.Equal(t, int64(1), a.CurrentSequence())
	if diff := cmp.Diff(before, a.Snapshot(), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("rejected events changed state:\n%s", diff)
	}
}

func TestApplyEventCannotBypassClaimRules(t *testing.T) {
	a, _ := newTestAggregate(t)
	mustExec(t, a, command.RegisterAgent{ID: "research-1", Type: model.ResearchAgent})
	mustExec(t, a, command.CreateThread{ID: "t1", Title: "a"})
	mustExec(t, a, command.CreateThread{ID: "t2", Title: "b"})
	seq := a.CurrentSequence()

	_, err := a.ApplyEvent(event.Event{EntityID: "t1", Payload: event.ThreadClaimed{AgentID: "research-1"}})
	require.ErrorIs(t, err, model.ErrAgentBusy)
	_, err = a.ApplyEvent(event.Event{EntityID: "t1", Payload: event.ThreadTemperatureChanged{Old: 0.5, New: temperature.Temperature{Value: 5}}})
	require.ErrorIs(t, err, model.ErrInvalidCommand)
	assert.Equal(t, seq, a.CurrentSequence())

	mustExec(t, a, command.ClaimThread{ThreadID: "t2", AgentID: "research-1"})
	t1, err := a.GetThread("t1")
	require.NoError(t, err)
	assert.Empty(t, t1.ClaimedBy)
	assert.Equal(t, temperature.Neutral, t1.Temperature.Value)
	ag, err := a.Agent("research-1")
	require.NoError(t, err)
	assert.Equal(t, "t2", ag.CurrentThread)

	_, err = a.Execute(command.ClaimThread{ThreadID: "t1", AgentID: "research-1"})
	require.ErrorIs(t, err, model.ErrAgentBusy)
	requireRebuildEquivalent(t, a)
}

func TestApplyEventDuplicateID(t *testing.T) {
	a, _ := newTestAggregate(t)
	_, err := a.ApplyEvent(event.Event{ID: "same", EntityID: "t", Payload: event.ThreadCreated{Title: "a"}})
	require.NoError(t, err)
	_, err = a.ApplyEvent(event.Event{ID: "same", EntityID: "u", Payload: event.ThreadCreated{Title: "b"}})
	require.ErrorIs(t, err, model.ErrAlreadyProcessed)
	_, err = a.GetThread("u")
	require.ErrorIs(t, err, model.ErrThreadNotFound)
}

func TestRestore(t *testing.T) {
	src, _ := newTestAggregate(t)
	mustExec(t, src, command.CreateThread{ID: "a", Title: "A"})
	mustExec(t, src, command.TransitionThread{ThreadID: "a", To: model.Active})
	mustExec(t, src, command.RegisterAgent{Type: model.CodeAgent, Token: "secret"})
	mustExec(t, src, command.ClaimThread{ThreadID: "a", AgentID: "code-1"})

	dst, _ := newTestAggregate(t)
	require.NoError(t, dst.Restore(src.EventsSince(0)))
	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot(), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("restored state differs:\n%s", diff)
	}
	assert.Equal(t, src.CurrentSequence(), dst.CurrentSequence())

	ag, err := dst.Authenticate("secret")
	require.NoError(t, err)
	assert.Equal(t, "code-1", ag.ID)

	// Restored registry keeps counting after code-1.
	evs := mustExec(t, dst, command.RegisterAgent{Type: model.CodeAgent})
	assert.Equal(t, "code-2", evs[0].EntityID)

	t.Run("non-empty aggregate", func(t *testing.T) {
		assert.Error(t, dst.Restore(nil))
	})
	t.Run("gap", func(t *testing.T) {
		fresh, _ := newTestAggregate(t)
		err := fresh.Restore(src.EventsSince(1))
		require.ErrorIs(t, err, model.ErrInvalidSequence)
		assert.Equal(t, int64(0), fresh.CurrentSequence())
	})
}

func TestLoadSnapshot(t *testing.T) {
	src, fake := newTestAggregate(t)
	mustExec(t, src, command.CreateThread{ID: "a", Title: "A"})
	mustExec(t, src, command.CreateEscalation{Title: "help", Priority: model.High})
	state := src.Snapshot()
	fake.Advance(time.Hour)
	mustExec(t, src, command.BoostThread{ThreadID: "a", Boost: 0.4})
	mustExec(t, src, command.SendMessage{From: "a", To: "b", Body: "hi"})
	tail := src.EventsSince(state.Sequence)
	require.Len(t, tail, 2)

	dst, _ := newTestAggregate(t)
	require.NoError(t, dst.LoadSnapshot(state, tail))
	assert.Equal(t, int64(4), dst.CurrentSequence())
	assert.Len(t, dst.EventsSince(0), 2, "only the tail is held")
	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot(), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("loaded state differs:\n%s", diff)
	}

	requireRebuildEquivalent(t, dst)

	evs := mustExec(t, dst, command.ResumeSystem{})
	assert.Empty(t, evs)
	evs = mustExec(t, dst, command.PauseSystem{Reason: "x"})
	assert.Equal(t, int64(5), evs[0].Sequence)
}

func TestMultiEventCommandIsAtomic(t *testing.T) {
	a, _ := newTestAggregate(t)
	mustExec(t, a, command.CreateThread{ID: "t", Title: "t"})
	mustExec(t, a, command.RegisterAgent{ID: "code-1", Type: model.CodeAgent})
	before := a.Snapshot()

	// The second draft names an unknown agent, so the fold fails after
	// the first one applied to the working copy.
	_, err := a.Execute(brokenClaim{})
	require.ErrorIs(t, err, model.ErrProjection)
	assert.Equal(t, before.Sequence, a.CurrentSequence())
	if diff := cmp.Diff(before, a.Snapshot(), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("partial batch leaked:\n%s", diff)
	}
}

type brokenClaim struct{ command.Meta }

func (brokenClaim) Name() string { return "broken_claim" }

func (brokenClaim) Decide(*projection.Projection, command.Env) ([]event.Draft, error) {
	return []event.Draft{
		event.NewDraft("code-1", event.AgentStatusChanged{From: model.Idle, To: model.Working, Transition: event.AgentAssigned, ThreadID: "t"}),
		event.NewDraft("ghost", event.AgentStatusChanged{From: model.Idle, To: model.Working, Transition: event.AgentAssigned, ThreadID: "t"}),
	}, nil
}

func TestConcurrentWriters(t *testing.T) {
	a, _ := newTestAggregate(t)
	const writers, each = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_, err := a.Execute(command.CreateThread{ID: fmt.Sprintf("w%d-%d", w, i), Title: "t"})
				assert.NoError(t, err)
				_ = a.Threads()
				_ = a.Stats()
			}
		}(w)
	}
	wg.Wait()

	evs := a.EventsSince(0)
	require.Len(t, evs, writers*each)
	for i, e := range evs {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
	assert.Len(t, a.Threads(), writers*each)
	requireRebuildEquivalent(t, a)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	a, _ := newTestAggregate(t)
	mustExec(t, a, command.CreateThread{ID: "hot", Title: "contested"})
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.Execute(command.ClaimThread{ThreadID: "hot", AgentID: fmt.Sprintf("agent-%d", i)})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, model.ErrAlreadyClaimed)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int64(2), a.CurrentSequence())
}

// TestRandomCommandsRebuild drives seeded random command sequences and
// checks that replaying the log reproduces the incremental state.
func TestRandomCommandsRebuild(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			a, fake := newTestAggregate(t)
			var threads, agents []string
			pick := func(ids []string) string {
				if len(ids) == 0 {
					return "missing"
				}
				return ids[rng.Intn(len(ids))]
			}
			for i := 0; i < 150; i++ {
				fake.Advance(time.Duration(rng.Intn(180)) * time.Minute)
				var c command.Command
				switch rng.Intn(12) {
				case 0:
					c = command.CreateThread{Title: fmt.Sprintf("thread %d", i)}
				case 1:
					c = command.RegisterAgent{Type: model.AgentTypes[rng.Intn(len(model.AgentTypes))]}
				case 2:
					c = command.TransitionThread{ThreadID: pick(threads), To: model.ThreadStates[rng.Intn(len(model.ThreadStates))]}
				case 3:
					c = command.ClaimThread{ThreadID: pick(threads), AgentID: pick(agents)}
				case 4:
					c = command.ReleaseThread{ThreadID: pick(threads), Reason: "random"}
				case 5:
					c = command.RecordActivity{ThreadID: pick(threads), Weight: rng.Float64()}
				case 6:
					c = command.BoostThread{ThreadID: pick(threads), Boost: rng.Float64()}
				case 7:
					c = command.DecayThread{ThreadID: pick(threads)}
				case 8:
					c = command.MergeThreads{SourceID: pick(threads), TargetID: pick(threads)}
				case 9:
					c = command.PauseAgent{AgentID: pick(agents)}
				case 10:
					c = command.ResumeAgent{AgentID: pick(agents)}
				default:
					if rng.Intn(2) == 0 {
						c = command.PauseSystem{Reason: "random"}
					} else {
						c = command.ResumeSystem{}
					}
				}
				evs, err := a.Execute(c)
				if err != nil {
					require.False(t, errors.Is(err, model.ErrProjection), "%s: decided events failed to fold: %v", c.Name(), err)
					continue
				}
				for _, e := range evs {
					switch e.Kind() {
					case event.KindThreadCreated:
						threads = append(threads, e.EntityID)
					case event.KindAgentRegistered:
						agents = append(agents, e.EntityID)
					}
				}
			}
			for _, th := range a.Threads() {
				assert.GreaterOrEqual(t, th.Temperature.Value, 0.0)
				assert.LessOrEqual(t, th.Temperature.Value, 1.0)
				if th.ClaimedBy != "" {
					assert.True(t, th.State.IsClaimable() || th.State == model.Blocked || th.State == model.Review,
						"terminal thread %s still claimed", th.ID)
				}
			}
			requireRebuildEquivalent(t, a)
			requireRebuildEquivalent(t, a)
		})
	}
}

func TestMaintainDecay(t *testing.T) {
	a, fake := newTestAggregate(t)
	mustExec(t, a, command.CreateThread{ID: "t", Title: "t"})
	mustExec(t, a, command.CreateThread{ID: "done", Title: "done"})
	mustExec(t, a, command.TransitionThread{ThreadID: "done", To: model.Active})
	mustExec(t, a, command.TransitionThread{ThreadID: "done", To: model.Killed})

	r, err := a.Maintain(Policy{})
	require.NoError(t, err)
	assert.Zero(t, r.Decayed)

	fake.Advance(24 * time.Hour)
	r, err = a.Maintain(Policy{})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Decayed)
	th, _ := a.GetThread("t")
	assert.InEpsilon(t, 0.25, th.Temperature.Value, 0.01)
	assert.Equal(t, r, a.LastReport())

	r, err = a.Maintain(Policy{})
	require.NoError(t, err)
	assert.Zero(t, r.Decayed, "second pass at the same instant changes nothing")
	requireRebuildEquivalent(t, a)
}

func TestMaintainExpiresClaims(t *testing.T) {
	a, fake := newTestAggregate(t)
	mustExec(t, a, command.CreateThread{ID: "stale", Title: "s"})
	mustExec(t, a, command.CreateThread{ID: "fresh", Title: "f"})
	mustExec(t, a, command.RegisterAgent{ID: "code-1", Type: model.CodeAgent})
	mustExec(t, a, command.ClaimThread{ThreadID: "stale", AgentID: "code-1"})
	fake.Advance(90 * time.Minute)
	mustExec(t, a, command.ClaimThread{ThreadID: "fresh", AgentID: "other"})

	r, err := a.Maintain(Policy{ClaimExpiry: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, r.Expired)

	th, _ := a.GetThread("stale")
	assert.Empty(t, th.ClaimedBy)
	ag, _ := a.Agent("code-1")
	assert.Equal(t, model.Idle, ag.Status)
	th, _ = a.GetThread("fresh")
	assert.Equal(t, "other", th.ClaimedBy)

	var released *event.Event
	for _, e := range a.EventsSince(0) {
		if e.Kind() == event.KindThreadReleased {
			released = &e
		}
	}
	require.NotNil(t, released)
	assert.Equal(t, MaintenanceActor, released.ActorID)
	assert.Equal(t, "expired", released.Payload.(event.ThreadReleased).Reason)
}

func TestMaintainOverdueEscalations(t *testing.T) {
	a, fake := newTestAggregate(t)
	evs := mustExec(t, a, command.CreateEscalation{Title: "stuck", Priority: model.High})
	id := evs[0].EntityID
	mustExec(t, a, command.CreateEscalation{Title: "minor", Priority: model.Low})
	p := Policy{
		ResponseTime:      map[model.Priority]time.Duration{model.High: 30 * time.Minute},
		AutoEscalateAfter: 2,
	}

	fake.Advance(time.Hour)
	r, err := a.Maintain(p)
	require.NoError(t, err)
	assert.Empty(t, r.Overdue, "first overdue pass is not reported yet")

	r, err = a.Maintain(p)
	require.NoError(t, err)
	require.Len(t, r.Overdue, 1)
	assert.Equal(t, id, r.Overdue[0].EscalationID)
	assert.Equal(t, 2, r.Overdue[0].Cycles)
	assert.Equal(t, time.Hour, r.Overdue[0].Age)

	mustExec(t, a, command.AcknowledgeEscalation{EscalationID: id, By: "human"})
	r, err = a.Maintain(p)
	require.NoError(t, err)
	assert.Empty(t, r.Overdue)
}

func TestRunMaintenanceStops(t *testing.T) {
	a, _ := newTestAggregate(t)
	mustExec(t, a, command.CreateThread{ID: "t", Title: "t"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	ran := make(chan Report, 1)
	go func() {
		done <- a.RunMaintenance(ctx, time.Millisecond, Policy{}, func(r Report) {
			select {
			case ran <- r:
			default:
			}
		})
	}()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("maintenance never ran")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Error(t, a.RunMaintenance(context.Background(), 0, Policy{}, nil))
}
