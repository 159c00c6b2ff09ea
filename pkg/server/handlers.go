package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/dispatch"
	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
)

// defaultEventLimit caps GET /events when no limit is given.
const defaultEventLimit = 50

type threadView struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	State       model.ThreadState `json:"state"`
	Temperature float64           `json:"temperature"`
	Band        string            `json:"band"`
	ClaimedBy   string            `json:"claimed_by,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (s *Server) threadViews(ts []*model.Thread) []threadView {
	out := make([]threadView, 0, len(ts))
	for _, t := range ts {
		out = append(out, s.threadView(t))
	}
	return out
}

func (s *Server) threadView(t *model.Thread) threadView {
	return threadView{
		ID:          t.ID,
		Title:       t.Metadata.Title,
		State:       t.State,
		Temperature: t.Temperature.Value,
		Band:        string(s.agg.Band(t)),
		ClaimedBy:   t.ClaimedBy,
		Tags:        t.Metadata.Tags,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sequence": s.agg.CurrentSequence(),
	})
}

type statusResponse struct {
	Paused      bool   `json:"paused"`
	PauseReason string `json:"pause_reason,omitempty"`
	Threads     struct {
		Total  int `json:"total"`
		Active int `json:"active"`
	} `json:"threads"`
	Agents struct {
		Total  int `json:"total"`
		Active int `json:"active"`
	} `json:"agents"`
	Escalations struct {
		Open    int `json:"open"`
		Overdue int `json:"overdue"`
	} `json:"escalations"`
	EventSequence int64 `json:"event_sequence"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.agg.Stats()
	var resp statusResponse
	resp.Paused = st.Paused
	resp.PauseReason = st.PauseReason
	resp.Threads.Total = st.Threads
	resp.Threads.Active = st.ThreadsByState[model.Active]
	resp.Agents.Total = st.Agents
	resp.Agents.Active = st.ActiveAgents
	resp.Escalations.Open = st.OpenEscalations
	resp.Escalations.Overdue = len(s.agg.LastReport().Overdue)
	resp.EventSequence = st.Sequence
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("state"); raw != "" {
		state, err := model.ParseThreadState(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, s.threadViews(s.agg.ThreadsByState(state)))
		return
	}
	writeJSON(w, http.StatusOK, s.threadViews(s.agg.ThreadsByTemperature()))
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.threadViews(s.agg.AvailableThreads()))
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	t, err := s.agg.GetThread(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.threadView(t))
}

type claimRequest struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if err := s.authorize(r, req.AgentID); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	cmd := command.ClaimThread{
		Meta:     command.Meta{ActorID: req.AgentID},
		ThreadID: id,
		AgentID:  req.AgentID,
	}
	if _, err := s.execute(w, cmd); err != nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claimed": true, "thread_id": id, "agent_id": req.AgentID})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if err := s.authorize(r, s.releasedBy(id, req.AgentID)); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	cmd := command.ReleaseThread{
		Meta:     command.Meta{ActorID: req.AgentID},
		ThreadID: id,
		AgentID:  req.AgentID,
		Reason:   req.Reason,
	}
	evs, err := s.execute(w, cmd)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": len(evs) > 0, "thread_id": id})
}

type eventView struct {
	Sequence    int64            `json:"sequence"`
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	EntityID    string           `json:"entity_id"`
	EntityType  event.EntityType `json:"entity_type"`
	Kind        event.Kind       `json:"kind"`
	Description string           `json:"description"`
	ActorID     string           `json:"actor_id,omitempty"`
}

// handleListEvents returns events after ?since=, or the most recent
// ones when since is absent.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	var evs []event.Event
	if raw := q.Get("since"); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || since < 0 {
			writeError(w, http.StatusBadRequest, errors.New("since must be a sequence number"))
			return
		}
		evs = s.agg.EventsSince(since)
		if len(evs) > limit {
			evs = evs[:limit]
		}
	} else {
		evs = s.agg.EventsSince(max(s.agg.CurrentSequence()-int64(limit), 0))
	}

	out := make([]eventView, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventView{
			Sequence:    e.Sequence,
			ID:          e.ID,
			Timestamp:   e.Timestamp,
			EntityID:    e.EntityID,
			EntityType:  e.EntityType,
			Kind:        e.Kind(),
			Description: e.Description(),
			ActorID:     e.ActorID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type postEventRequest struct {
	ID         string         `json:"id,omitempty"`
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	Payload    event.Envelope `json:"payload"`
	ActorID    string         `json:"actor_id,omitempty"`
}

// handlePostEvent applies a raw event. Every registered agent the event
// acts for must be the holder of the request's bearer token.
func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var req postEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	payload, err := req.Payload.Decode()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e := event.Event{ID: req.ID, EntityID: req.EntityID, Payload: payload, ActorID: req.ActorID}
	if req.EntityType != "" {
		if e.EntityType, err = event.ParseEntityType(req.EntityType); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.authorize(r, s.actingAgents(e)...); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	applied, err := s.agg.ApplyEvent(e)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, model.ErrProjection) && !errors.Is(err, model.ErrAlreadyProcessed) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	if !s.persisted(w) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"event_id": applied.ID, "sequence": applied.Sequence})
}

// actingAgents lists the ids e acts for: its actor, the agent a claim,
// message or escalation names, the subject of an agent event, and for a
// release the agent losing the claim.
func (s *Server) actingAgents(e event.Event) []string {
	ids := []string{e.ActorID}
	switch pl := e.Payload.(type) {
	case event.ThreadClaimed:
		ids = append(ids, pl.AgentID)
	case event.ThreadReleased:
		ids = append(ids, s.releasedBy(e.EntityID, pl.AgentID))
	case event.AgentStatusChanged, event.AgentTerminated:
		ids = append(ids, e.EntityID)
	case event.MessageSent:
		ids = append(ids, pl.From)
	case event.MessageRead:
		ids = append(ids, pl.Reader)
	case event.EscalationCreated:
		ids = append(ids, pl.ReporterID)
	}
	return ids
}

// releasedBy names the agent a release of threadID acts for: the one
// given, or else the current claimant.
func (s *Server) releasedBy(threadID, agentID string) string {
	if agentID != "" {
		return agentID
	}
	if t, err := s.agg.GetThread(threadID); err == nil {
		return t.ClaimedBy
	}
	return ""
}

// authorize requires a bearer token held by every registered agent in
// ids. Ids that are empty or not registered (humans, tools) need none.
func (s *Server) authorize(r *http.Request, ids ...string) error {
	var agents []string
	for _, id := range ids {
		if id == "" || slices.Contains(agents, id) {
			continue
		}
		if _, err := s.agg.Agent(id); err == nil {
			agents = append(agents, id)
		}
	}
	if len(agents) == 0 {
		return nil
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return errors.New("missing bearer token for agent " + agents[0])
	}
	a, err := s.agg.Authenticate(token)
	if err != nil {
		return err
	}
	for _, id := range agents {
		if a.ID != id {
			return errors.New("token does not belong to " + id)
		}
	}
	return nil
}

type escalationView struct {
	*model.Escalation
	Age string `json:"age"`
}

func (s *Server) handleEscalations(w http.ResponseWriter, r *http.Request) {
	es := s.agg.OpenEscalations()
	if r.URL.Query().Get("all") == "true" {
		es = s.agg.AllEscalations()
	}
	now := s.agg.Now()
	out := make([]escalationView, 0, len(es))
	for _, e := range es {
		out = append(out, escalationView{Escalation: e, Age: now.Sub(e.CreatedAt).Round(time.Second).String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	plan := dispatch.Compute(s.agg.Agents(), s.agg.AvailableThreads(), s.agg.Thresholds())
	writeJSON(w, http.StatusOK, plan)
}

// execute runs cmd and persists. On failure it has already written the
// error response.
func (s *Server) execute(w http.ResponseWriter, cmd command.Command) ([]event.Event, error) {
	evs, err := s.agg.Execute(cmd)
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, err
	}
	if len(evs) > 0 && !s.persisted(w) {
		return nil, errPersist
	}
	return evs, nil
}

var errPersist = errors.New("persist failed")

func (s *Server) persisted(w http.ResponseWriter) bool {
	if s.persist == nil {
		return true
	}
	if err := s.persist(); err != nil {
		s.logger.Error("persist failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errPersist)
		return false
	}
	return true
}

// decode reads a JSON body capped at MaxBodyBytes.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("payload exceeds limit"))
			return false
		}
		writeError(w, http.StatusBadRequest, errors.New("unable to read body"))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON"))
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrThreadNotFound),
		errors.Is(err, model.ErrAgentNotFound),
		errors.Is(err, model.ErrEscalationNotFound),
		errors.Is(err, model.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyClaimed),
		errors.Is(err, model.ErrNotClaimable),
		errors.Is(err, model.ErrAgentBusy),
		errors.Is(err, model.ErrSystemPaused),
		errors.Is(err, model.ErrAlreadyProcessed),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrAgentAlreadyRegistered),
		errors.Is(err, model.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotAuthorized):
		return http.StatusForbidden
	case model.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
