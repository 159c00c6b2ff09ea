package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/daviddao/threadmill/pkg/clock"
	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/coord"
	"github.com/daviddao/threadmill/pkg/dispatch"
	"github.com/daviddao/threadmill/pkg/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Authorization headers of the two research agents registered below.
var (
	asResearch1 = []string{"Authorization", "Bearer tok-1"}
	asResearch2 = []string{"Authorization", "Bearer tok-2"}
)

func newTestAggregate(t *testing.T) *coord.Aggregate {
	t.Helper()
	var ids, evs atomic.Int64
	a := coord.New(
		coord.WithClock(clock.NewFake(t0)),
		coord.WithIDs(func(prefix string) string { return fmt.Sprintf("%s-%d", prefix, ids.Add(1)) }),
		coord.WithEventIDs(func() string { return fmt.Sprintf("ev-%d", evs.Add(1)) }),
	)
	for _, c := range []command.Command{
		command.CreateThread{ID: "intro", Title: "Draft intro"},
		command.TransitionThread{ThreadID: "intro", To: model.Active},
		command.CreateThread{ID: "proofs", Title: "Check proofs", Tags: []string{"needs:verify"}},
		command.RegisterAgent{Type: model.ResearchAgent, Token: "tok-1"},
		command.RegisterAgent{Type: model.ResearchAgent, Token: "tok-2"},
	} {
		_, err := a.Execute(c)
		require.NoError(t, err, c.Name())
	}
	return a
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *coord.Aggregate) {
	t.Helper()
	a := newTestAggregate(t)
	return New(a, DefaultSettings(), opts...), a
}

func do(t *testing.T, s *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndStatus(t *testing.T) {
	s, a := newTestServer(t)

	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeBody[statusResponse](t, w)
	assert.False(t, st.Paused)
	assert.Equal(t, 2, st.Threads.Total)
	assert.Equal(t, 1, st.Threads.Active)
	assert.Equal(t, 2, st.Agents.Total)
	assert.Equal(t, 0, st.Escalations.Open)
	assert.Equal(t, a.CurrentSequence(), st.EventSequence)
}

func TestThreadQueries(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/threads/available", "")
	require.Equal(t, http.StatusOK, w.Code)
	avail := decodeBody[[]threadView](t, w)
	require.Len(t, avail, 2)

	w = do(t, s, http.MethodGet, "/threads/intro", "")
	require.Equal(t, http.StatusOK, w.Code)
	th := decodeBody[threadView](t, w)
	assert.Equal(t, "Draft intro", th.Title)
	assert.Equal(t, model.Active, th.State)
	assert.InDelta(t, 0.5, th.Temperature, 1e-9)
	assert.Equal(t, "warm", th.Band)

	w = do(t, s, http.MethodGet, "/threads/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/threads?state=embryo", "")
	require.Equal(t, http.StatusOK, w.Code)
	embryos := decodeBody[[]threadView](t, w)
	require.Len(t, embryos, 1)
	assert.Equal(t, "proofs", embryos[0].ID)

	w = do(t, s, http.MethodGet, "/threads?state=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClaimConflict(t *testing.T) {
	s, a := newTestServer(t)

	w := do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1"}`, asResearch1...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	seq := a.CurrentSequence()

	w = do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-2"}`, asResearch2...)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, seq, a.CurrentSequence())

	// Re-claiming by the holder is accepted and appends nothing.
	w = do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1"}`, asResearch1...)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, seq, a.CurrentSequence())

	w = do(t, s, http.MethodPost, "/threads/nope/claim", `{"agent_id":"research-2"}`, asResearch2...)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/threads/intro/claim", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestClaimWhilePaused(t *testing.T) {
	s, a := newTestServer(t)
	_, err := a.Execute(command.PauseSystem{Reason: "audit"})
	require.NoError(t, err)

	w := do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1"}`, asResearch1...)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRelease(t *testing.T) {
	s, a := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1"}`, asResearch1...).Code)

	w := do(t, s, http.MethodPost, "/threads/intro/release", `{"agent_id":"research-2"}`, asResearch2...)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the holder may release")

	w = do(t, s, http.MethodPost, "/threads/intro/release", `{"agent_id":"research-1","reason":"done for today"}`, asResearch1...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decodeBody[map[string]any](t, w)["released"])

	th, err := a.GetThread("intro")
	require.NoError(t, err)
	assert.Empty(t, th.ClaimedBy)
	ag, err := a.Agent("research-1")
	require.NoError(t, err)
	assert.Equal(t, model.Idle, ag.Status)
}

func TestPostEvent(t *testing.T) {
	s, a := newTestServer(t)
	before := a.CurrentSequence()

	w := do(t, s, http.MethodPost, "/events",
		`{"entity_id":"survey","entity_type":"Thread","payload":{"type":"thread.created","data":{"title":"Lit survey"}}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decodeBody[map[string]any](t, w)
	assert.EqualValues(t, before+1, resp["sequence"])
	assert.NotEmpty(t, resp["event_id"])

	th, err := a.GetThread("survey")
	require.NoError(t, err)
	assert.Equal(t, "Lit survey", th.Metadata.Title)
}

func TestPostEventRejectsMalformed(t *testing.T) {
	s, a := newTestServer(t)
	before := a.CurrentSequence()

	for name, body := range map[string]string{
		"invalid json":       `{"entity_id":`,
		"unknown kind":       `{"entity_id":"x","payload":{"type":"thread.exploded"}}`,
		"bad entity type":    `{"entity_id":"x","entity_type":"planet","payload":{"type":"thread.created","data":{"title":"x"}}}`,
		"wrong entity type":  `{"entity_id":"x","entity_type":"agent","payload":{"type":"thread.created","data":{"title":"x"}}}`,
		"illegal transition": `{"entity_id":"proofs","payload":{"type":"thread.state_changed","data":{"from":"embryo","to":"complete"}}}`,
		"unknown thread":     `{"entity_id":"ghost","payload":{"type":"thread.claimed","data":{"agent_id":"someone"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/events", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, before, a.CurrentSequence(), "rejected events must not be appended")
}

func TestPostEventDuplicateID(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"id":"ext-1","entity_id":"a","payload":{"type":"thread.created","data":{"title":"a"}}}`
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/events", body).Code)
	body = `{"id":"ext-1","entity_id":"b","payload":{"type":"thread.created","data":{"title":"b"}}}`
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/events", body).Code)
}

func TestPostEventAuth(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"entity_id":"research-1","actor_id":"research-1","payload":{"type":"agent.status_changed","data":{"from":"idle","to":"working","transition":"assigned","thread_id":"intro"}}}`

	w := do(t, s, http.MethodPost, "/events", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/events", body, "Authorization", "Bearer tok-2")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "another agent's token")

	w = do(t, s, http.MethodPost, "/events", body, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/events", body, "Authorization", "Bearer tok-1")
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body = `{"entity_id":"intro","actor_id":"research-1","payload":{"type":"thread.claimed","data":{"agent_id":"research-1"}}}`
	w = do(t, s, http.MethodPost, "/events", body, asResearch1...)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Actors that are not registered agents (humans, tools) need no token.
	body = `{"entity_id":"proofs","actor_id":"human","payload":{"type":"thread.state_changed","data":{"from":"embryo","to":"active"}}}`
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/events", body).Code)
}

func TestListEvents(t *testing.T) {
	s, a := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1"}`, asResearch1...).Code)

	w := do(t, s, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	evs := decodeBody[[]eventView](t, w)
	require.Len(t, evs, int(a.CurrentSequence()))
	var descs []string
	for _, e := range evs {
		descs = append(descs, e.Description)
	}
	assert.Contains(t, descs, "Thread claimed by research-1")

	w = do(t, s, http.MethodGet, "/events?since=2&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	evs = decodeBody[[]eventView](t, w)
	require.Len(t, evs, 2)
	assert.EqualValues(t, 3, evs[0].Sequence)

	w = do(t, s, http.MethodGet, "/events?limit=2", "")
	evs = decodeBody[[]eventView](t, w)
	require.Len(t, evs, 2)
	assert.Equal(t, a.CurrentSequence(), evs[1].Sequence)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/events?since=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/events?limit=0", "").Code)
}

func TestEscalations(t *testing.T) {
	s, a := newTestServer(t)
	_, err := a.Execute(command.CreateEscalation{Title: "Need GPU quota", Priority: model.High})
	require.NoError(t, err)

	w := do(t, s, http.MethodGet, "/escalations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "high", out[0]["priority"])
	assert.Equal(t, "Need GPU quota", out[0]["title"])
}

func TestDispatch(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/dispatch", "")
	require.Equal(t, http.StatusOK, w.Code)
	plan := decodeBody[dispatch.Plan](t, w)
	require.Len(t, plan.Assignments, 1)
	assert.Equal(t, "intro", plan.Assignments[0].ThreadID)
	assert.Equal(t, "research-1", plan.Assignments[0].AgentID)
	assert.Equal(t, []string{"proofs"}, plan.Unmatched, "no verification agent is registered")
}

func TestPersistHook(t *testing.T) {
	var calls int
	s, _ := newTestServer(t, WithPersist(func() error { calls++; return nil }))

	do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1"}`, asResearch1...)
	do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1"}`, asResearch1...) // no-op
	do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-2"}`, asResearch2...) // conflict
	assert.Equal(t, 1, calls)

	failing, _ := newTestServer(t, WithPersist(func() error { return errors.New("disk full") }))
	w := do(t, failing, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1"}`, asResearch1...)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestBodyTooLarge(t *testing.T) {
	a := newTestAggregate(t)
	s := New(a, Settings{MaxBodyBytes: 16})
	w := do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1-with-a-long-name"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRunServesUntilCancelled(t *testing.T) {
	a := newTestAggregate(t)
	settings := DefaultSettings()
	settings.Addr = "127.0.0.1:0"
	s := New(a, settings)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Second) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, s.Addr())
}

func TestPostEventAuthCoversNamedAgents(t *testing.T) {
	s, a := newTestServer(t)
	before := a.CurrentSequence()

	for name, body := range map[string]string{
		"claim without actor":     `{"entity_id":"intro","payload":{"type":"thread.claimed","data":{"agent_id":"research-1"}}}`,
		"terminate without actor": `{"entity_id":"research-2","payload":{"type":"agent.terminated","data":{}}}`,
		"message as human":        `{"entity_id":"m1","actor_id":"human","payload":{"type":"message.sent","data":{"from":"research-1","to":"human","body":"hi"}}}`,
	} {
		w := do(t, s, http.MethodPost, "/events", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
	}

	// A token only speaks for its own agent.
	body := `{"entity_id":"research-2","actor_id":"research-1","payload":{"type":"agent.terminated","data":{}}}`
	w := do(t, s, http.MethodPost, "/events", body, asResearch1...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, before, a.CurrentSequence())
	ag, err := a.Agent("research-2")
	require.NoError(t, err)
	assert.Equal(t, model.Idle, ag.Status)
}

func TestClaimRoutesRequireToken(t *testing.T) {
	s, a := newTestServer(t)

	w := do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1"}`, asResearch2...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	th, err := a.GetThread("intro")
	require.NoError(t, err)
	assert.Empty(t, th.ClaimedBy)

	w = do(t, s, http.MethodPost, "/threads/intro/claim", `{"agent_id":"research-1"}`, asResearch1...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Releasing without naming an agent still acts for the holder.
	w = do(t, s, http.MethodPost, "/threads/intro/release", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(t, s, http.MethodPost, "/threads/intro/release", `{}`, asResearch2...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	th, err = a.GetThread("intro")
	require.NoError(t, err)
	assert.Equal(t, "research-1", th.ClaimedBy)

	w = do(t, s, http.MethodPost, "/threads/intro/release", `{"agent_id":"research-1"}`, asResearch1...)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
