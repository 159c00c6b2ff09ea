package projection

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/temperature"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// folder feeds a projection with correctly sequenced events.
type folder struct {
	t       *testing.T
	p       *Projection
	seq     int64
	now     time.Time
	onApply func(event.Kind)
}

func newFolder(t *testing.T) *folder {
	return &folder{t: t, p: New(), now: t0}
}

func (f *folder) event(entityID string, pl event.Payload) event.Event {
	f.now = f.now.Add(time.Minute)
	return event.Event{
		ID:         fmt.Sprintf("ev-%d", f.seq+1),
		Sequence:   f.seq + 1,
		Timestamp:  f.now,
		EntityID:   entityID,
		EntityType: pl.EntityType(),
		Payload:    pl,
	}
}

func (f *folder) apply(entityID string, pl event.Payload) {
	f.t.Helper()
	require.NoError(f.t, f.try(entityID, pl))
}

func (f *folder) try(entityID string, pl event.Payload) error {
	e := f.event(entityID, pl)
	if err := f.p.Apply(e); err != nil {
		return err
	}
	f.seq++
	if f.onApply != nil {
		f.onApply(pl.Kind())
	}
	return nil
}

var equateEmpty = cmpopts.EquateEmpty()

func TestApply_ClaimScenario(t *testing.T) {
	f := newFolder(t)
	f.apply("t1", event.ThreadCreated{Title: "Draft intro"})
	th, err := f.p.Thread("t1")
	require.NoError(t, err)
	assert.Equal(t, model.Embryo, th.State)
	assert.Equal(t, temperature.Neutral, th.Temperature.Value)

	f.apply("t1", event.ThreadStateChanged{From: model.Embryo, To: model.Active})
	f.apply("t1", event.ThreadClaimed{AgentID: "research-1"})

	before := f.p.Snapshot()
	err = f.try("t1", event.ThreadClaimed{AgentID: "research-2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAlreadyClaimed))
	assert.True(t, errors.Is(err, model.ErrProjection))
	if diff := cmp.Diff(before, f.p.Snapshot(), equateEmpty); diff != "" {
		t.Fatalf("failed fold mutated state:\n%s", diff)
	}

	f.apply("t1", event.ThreadReleased{AgentID: "research-1"})
	f.apply("t1", event.ThreadClaimed{AgentID: "research-2"})
	th, _ = f.p.Thread("t1")
	assert.Equal(t, "research-2", th.ClaimedBy)
	assert.Equal(t, int64(5), th.Version)
}

func TestApply_RejectsOutOfOrderSequence(t *testing.T) {
	p := New()
	e := event.Event{ID: "x", Sequence: 2, Timestamp: t0, EntityID: "t1", EntityType: event.EntityThread, Payload: event.ThreadCreated{Title: "x"}}
	err := p.Apply(e)
	assert.True(t, errors.Is(err, model.ErrInvalidSequence))
	var pe *model.ProjectionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, int64(2), pe.Sequence)
	assert.Equal(t, int64(0), p.Sequence())
}

func TestApply_InvalidTransitionLeavesNoTrace(t *testing.T) {
	f := newFolder(t)
	f.apply("t1", event.ThreadCreated{Title: "x"})
	err := f.try("t1", event.ThreadStateChanged{From: model.Embryo, To: model.Complete})
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	err = f.try("t1", event.ThreadStateChanged{From: model.Active, To: model.Review})
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	th, _ := f.p.Thread("t1")
	assert.Equal(t, model.Embryo, th.State)
	assert.Equal(t, int64(1), f.p.Sequence())
}

// fullHistory exercises every payload variant in a valid order.
func fullHistory(f *folder) {
	temp := temperature.New(t0.Add(time.Hour))
	temp.Value = 0.8
	f.apply("t1", event.ThreadCreated{Title: "Draft intro", Tags: []string{"nlp"}})
	f.apply("t2", event.ThreadCreated{Title: "Side quest", Related: []string{"t1"}})
	f.apply("research-1", event.AgentRegistered{AgentType: model.ResearchAgent, TokenDigest: "d1"})
	f.apply("t1", event.ThreadStateChanged{From: model.Embryo, To: model.Active})
	f.apply("research-1", event.AgentStatusChanged{From: model.Idle, To: model.Working, Transition: event.AgentAssigned, ThreadID: "t1"})
	f.apply("t1", event.ThreadClaimed{AgentID: "research-1"})
	f.apply("t1", event.ThreadTemperatureChanged{Old: 0.5, New: temp, Reason: "breakthrough"})
	f.apply("art-1", event.ArtifactCreated{ThreadID: "t1", ArtifactKind: "note", Path: "notes/intro.md"})
	f.apply("art-1", event.ArtifactModified{Summary: "first pass"})
	f.apply("t1", event.ThreadArtifactAdded{ArtifactID: "art-1"})
	f.apply("t1", event.ThreadMerged{SourceID: "t2"})
	f.apply("msg-1", event.MessageSent{From: "human", To: "research-1", Body: "nice"})
	f.apply("msg-1", event.MessageRead{Reader: "research-1"})
	f.apply("esc-1", event.EscalationCreated{Category: "ethics", Title: "Consent", ReporterID: "research-1", Priority: model.High})
	f.apply("esc-1", event.EscalationAcknowledged{By: "human"})
	f.apply("esc-1", event.EscalationResolved{By: "human", Resolution: "approved"})
	f.apply("research-1", event.AgentStatusChanged{From: model.Working, To: model.Paused, Transition: event.AgentPaused})
	f.apply("research-1", event.AgentStatusChanged{From: model.Paused, To: model.Working, Transition: event.AgentResumed})
	f.apply("t1", event.ThreadReleased{AgentID: "research-1", Reason: "review ready"})
	f.apply("research-1", event.AgentStatusChanged{From: model.Working, To: model.Idle, Transition: event.AgentCompleted})
	f.apply(event.SystemEntityID, event.SystemPaused{Reason: "maintenance"})
	f.apply(event.SystemEntityID, event.SystemResumed{})
	f.apply(event.SystemEntityID, event.SnapshotCreated{Sequence: 23})
	f.apply("research-1", event.AgentTerminated{Reason: "done"})
}

func TestApply_EveryKind(t *testing.T) {
	f := newFolder(t)
	fullHistory(f)
	p := f.p

	t1, err := p.Thread("t1")
	require.NoError(t, err)
	assert.Empty(t, t1.ClaimedBy)
	assert.Equal(t, 0.8, t1.Temperature.Value)
	assert.Equal(t, []string{"art-1"}, t1.ArtifactIDs)
	assert.Equal(t, []string{"t2"}, t1.Metadata.Related)

	t2, _ := p.Thread("t2")
	assert.Equal(t, "t1", t2.MergedInto)

	a, err := p.Agent("research-1")
	require.NoError(t, err)
	assert.Equal(t, model.Terminated, a.Status)
	assert.Equal(t, int64(1), a.ThreadsCompleted)

	art, ok := p.Artifact("art-1")
	require.True(t, ok)
	assert.Equal(t, int64(2), art.Revision)
	assert.Equal(t, "first pass", art.Summary)

	m, ok := p.Message("msg-1")
	require.True(t, ok)
	assert.True(t, m.Read())
	assert.Empty(t, p.Inbox("research-1", true))
	assert.Len(t, p.Inbox("research-1", false), 1)

	assert.Empty(t, p.OpenEscalations())
	require.Len(t, p.AllEscalations(), 1)
	assert.Equal(t, "approved", p.AllEscalations()[0].Resolution)

	paused, _ := p.Paused()
	assert.False(t, paused)
	st := p.Stats()
	assert.Equal(t, int64(23), st.LastSnapshot)
	assert.Equal(t, int64(24), st.Sequence)
}

func TestApply_CoversEveryRegisteredKind(t *testing.T) {
	f := newFolder(t)
	kinds := map[event.Kind]bool{}
	f.onApply = func(k event.Kind) { kinds[k] = true }
	fullHistory(f)
	for _, k := range event.Kinds() {
		assert.True(t, kinds[k], "history never folds %s", k)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	f := newFolder(t)
	fullHistory(f)
	s := f.p.Snapshot()
	q, err := FromState(s)
	require.NoError(t, err)
	if diff := cmp.Diff(s, q.Snapshot(), equateEmpty); diff != "" {
		t.Fatalf("snapshot round trip (-want +got):\n%s", diff)
	}
	assert.Equal(t, "research-2", q.Agents().NextID(model.ResearchAgent))
}

func TestFromState_RejectsDuplicates(t *testing.T) {
	th := *model.NewThread("t1", model.ThreadMetadata{Title: "x"}, t0)
	_, err := FromState(State{Threads: []model.Thread{th, th}})
	assert.True(t, errors.Is(err, model.ErrInvalidCommand))
}

func TestClone_IsIndependent(t *testing.T) {
	f := newFolder(t)
	f.apply("t1", event.ThreadCreated{Title: "x"})
	c := f.p.Clone()
	f.apply("t1", event.ThreadStateChanged{From: model.Embryo, To: model.Active})
	th, _ := c.Thread("t1")
	assert.Equal(t, model.Embryo, th.State)
	assert.Equal(t, int64(1), c.Sequence())
}

func TestQueries_AvailableAndTemperatureOrder(t *testing.T) {
	f := newFolder(t)
	for i, v := range []float64{0.2, 0.9, 0.5} {
		id := fmt.Sprintf("t%d", i+1)
		f.apply(id, event.ThreadCreated{Title: id})
		temp := temperature.New(t0)
		temp.Value = v
		f.apply(id, event.ThreadTemperatureChanged{Old: 0.5, New: temp})
	}
	f.apply("t2", event.ThreadStateChanged{From: model.Embryo, To: model.Active})
	f.apply("t2", event.ThreadClaimed{AgentID: "a"})
	f.apply("t3", event.ThreadStateChanged{From: model.Embryo, To: model.Active})
	f.apply("t3", event.ThreadStateChanged{From: model.Active, To: model.Blocked})

	var ids []string
	for _, th := range f.p.AvailableThreads() {
		ids = append(ids, th.ID)
	}
	assert.Equal(t, []string{"t1"}, ids)

	ids = nil
	for _, th := range f.p.ThreadsByTemperature() {
		ids = append(ids, th.ID)
	}
	assert.Equal(t, []string{"t2", "t3", "t1"}, ids)
	assert.Len(t, f.p.ThreadsByState(model.Blocked), 1)
}

func TestApply_AgentRules(t *testing.T) {
	f := newFolder(t)
	f.apply("research-1", event.AgentRegistered{AgentType: model.ResearchAgent, TokenDigest: "d"})
	err := f.try("research-2", event.AgentRegistered{AgentType: model.ResearchAgent, TokenDigest: "d"})
	assert.True(t, errors.Is(err, model.ErrNotAuthorized), "shared token: %v", err)
	err = f.try("research-1", event.AgentRegistered{AgentType: model.ResearchAgent})
	assert.True(t, errors.Is(err, model.ErrAgentAlreadyRegistered))
	err = f.try("research-1", event.AgentStatusChanged{From: model.Working, To: model.Idle, Transition: event.AgentCompleted})
	assert.True(t, errors.Is(err, model.ErrAgentBusy))
	err = f.try("ghost", event.AgentTerminated{})
	assert.True(t, errors.Is(err, model.ErrAgentNotFound))
}

func TestQueries_Agents(t *testing.T) {
	f := newFolder(t)
	f.apply("research-1", event.AgentRegistered{AgentType: model.ResearchAgent, TokenDigest: "d1"})
	f.apply("research-2", event.AgentRegistered{AgentType: model.ResearchAgent, TokenDigest: "d2"})
	f.apply("code-1", event.AgentRegistered{AgentType: model.CodeAgent, TokenDigest: "d3"})
	f.apply("t1", event.ThreadCreated{Title: "Draft intro"})

	first, ok := f.p.FindIdle(model.ResearchAgent)
	require.True(t, ok)
	assert.Equal(t, "research-1", first.ID)

	f.apply("research-1", event.AgentStatusChanged{From: model.Idle, To: model.Working, Transition: event.AgentAssigned, ThreadID: "t1"})
	next, ok := f.p.FindIdle(model.ResearchAgent)
	require.True(t, ok)
	assert.Equal(t, "research-2", next.ID)
	_, ok = f.p.FindIdle(model.VerificationAgent)
	assert.False(t, ok)

	ids := func(as []*model.Agent) []string {
		out := make([]string, len(as))
		for i, a := range as {
			out[i] = a.ID
		}
		return out
	}
	assert.Equal(t, []string{"research-1", "research-2"}, ids(f.p.AgentsOfType(model.ResearchAgent)))
	assert.Equal(t, []string{"research-2", "code-1"}, ids(f.p.IdleAgents()))
	assert.Equal(t, []string{"research-1"}, ids(f.p.WorkingAgents()))

	on, ok := f.p.AgentOnThread("t1")
	require.True(t, ok)
	assert.Equal(t, "research-1", on.ID)
	_, ok = f.p.AgentOnThread("")
	assert.False(t, ok)

	on.Status = model.Terminated
	again, _ := f.p.Agent("research-1")
	assert.Equal(t, model.Working, again.Status, "query results are copies")
}

func TestApply_RejectsTemperatureOutsideUnitInterval(t *testing.T) {
	f := newFolder(t)
	f.apply("t1", event.ThreadCreated{Title: "x"})
	for _, bad := range []temperature.Temperature{
		{Value: 5},
		{Value: -1},
		{Value: math.NaN()},
		{Value: 0.5, Breakthrough: 3},
		{Value: 0.5, HumanBoost: -0.5},
	} {
		err := f.try("t1", event.ThreadTemperatureChanged{Old: 0.5, New: bad})
		assert.True(t, errors.Is(err, model.ErrInvalidCommand), "%+v: %v", bad, err)
	}
	th, _ := f.p.Thread("t1")
	assert.Equal(t, temperature.Neutral, th.Temperature.Value)
	assert.Equal(t, int64(1), f.p.Sequence())
}

func TestApply_ClaimPairsWithAssignment(t *testing.T) {
	f := newFolder(t)
	f.apply("research-1", event.AgentRegistered{AgentType: model.ResearchAgent, TokenDigest: "d1"})
	f.apply("research-2", event.AgentRegistered{AgentType: model.ResearchAgent, TokenDigest: "d2"})
	f.apply("t1", event.ThreadCreated{Title: "a"})
	f.apply("t2", event.ThreadCreated{Title: "b"})
	f.apply("t1", event.ThreadStateChanged{From: model.Embryo, To: model.Active})

	err := f.try("t1", event.ThreadClaimed{AgentID: "research-1"})
	assert.True(t, errors.Is(err, model.ErrAgentBusy), "claim before assignment: %v", err)

	f.apply("research-1", event.AgentStatusChanged{From: model.Idle, To: model.Working, Transition: event.AgentAssigned, ThreadID: "t1"})
	f.apply("t1", event.ThreadClaimed{AgentID: "research-1"})

	err = f.try("t2", event.ThreadClaimed{AgentID: "research-1"})
	assert.True(t, errors.Is(err, model.ErrAgentBusy), "second claim: %v", err)
	err = f.try("research-1", event.AgentStatusChanged{From: model.Working, To: model.Working, Transition: event.AgentAssigned, ThreadID: "t2"})
	assert.True(t, errors.Is(err, model.ErrAgentBusy), "second assignment: %v", err)
	err = f.try("research-2", event.AgentStatusChanged{From: model.Idle, To: model.Working, Transition: event.AgentAssigned, ThreadID: "t1"})
	assert.True(t, errors.Is(err, model.ErrAlreadyClaimed), "assignment to a held thread: %v", err)

	err = f.try("t1", event.ThreadStateChanged{From: model.Active, To: model.Killed})
	assert.True(t, errors.Is(err, model.ErrInvalidCommand), "kill while claimed: %v", err)
	err = f.try("research-1", event.AgentStatusChanged{From: model.Working, To: model.Idle, Transition: event.AgentUnassigned})
	assert.True(t, errors.Is(err, model.ErrInvalidCommand), "detach while claiming: %v", err)
	err = f.try("research-1", event.AgentTerminated{})
	assert.True(t, errors.Is(err, model.ErrInvalidCommand), "terminate while claiming: %v", err)
	err = f.try("t1", event.ThreadMerged{SourceID: "t2"})
	require.NoError(t, err)
	err = f.try("t2", event.ThreadMerged{SourceID: "t1"})
	assert.True(t, errors.Is(err, model.ErrInvalidCommand), "merge away a claimed thread: %v", err)

	f.apply("t1", event.ThreadReleased{AgentID: "research-1"})
	err = f.try("t1", event.ThreadStateChanged{From: model.Active, To: model.Killed})
	assert.True(t, errors.Is(err, model.ErrInvalidCommand), "kill while assigned: %v", err)
	err = f.try("t1", event.ThreadClaimed{AgentID: "human"})
	assert.True(t, errors.Is(err, model.ErrAlreadyClaimed), "claim over an assignment: %v", err)

	f.apply("research-1", event.AgentStatusChanged{From: model.Working, To: model.Idle, Transition: event.AgentUnassigned})
	f.apply("t1", event.ThreadStateChanged{From: model.Active, To: model.Killed})

	a, _ := f.p.Agent("research-1")
	assert.Equal(t, model.Idle, a.Status)
	assert.Empty(t, a.CurrentThread)
}
