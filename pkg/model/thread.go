package model

import (
	"fmt"
	"time"

	"github.com/daviddao/threadmill/pkg/temperature"
)

// ThreadState is a position in the thread lifecycle.
type ThreadState string

const (
	Embryo   ThreadState = "embryo"
	Active   ThreadState = "active"
	Blocked  ThreadState = "blocked"
	Review   ThreadState = "review"
	Complete ThreadState = "complete"
	Killed   ThreadState = "killed"
)

// ThreadStates lists every state in lifecycle order.
var ThreadStates = []ThreadState{Embryo, Active, Blocked, Review, Complete, Killed}

// ParseThreadState validates s.
func ParseThreadState(s string) (ThreadState, error) {
	st := ThreadState(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown thread state %q", ErrInvalidCommand, s)
	}
	return st, nil
}

// Valid reports whether s is a known state.
func (s ThreadState) Valid() bool {
	switch s {
	case Embryo, Active, Blocked, Review, Complete, Killed:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> to is a legal edge:
//
//	embryo  -> active
//	active  -> blocked | review | killed
//	blocked -> active | killed
//	review  -> complete | active | killed
//
// Complete and Killed have no outgoing edges.
func (s ThreadState) CanTransitionTo(to ThreadState) bool {
	switch s {
	case Embryo:
		return to == Active
	case Active:
		return to == Blocked || to == Review || to == Killed
	case Blocked:
		return to == Active || to == Killed
	case Review:
		return to == Complete || to == Active || to == Killed
	default:
		return false
	}
}

// IsTerminal reports whether s accepts no further work transitions.
func (s ThreadState) IsTerminal() bool { return s == Complete || s == Killed }

// IsClaimable reports whether an agent may claim a thread in s.
func (s ThreadState) IsClaimable() bool { return s == Embryo || s == Active }

// IsWorkable reports whether agents may do work on a thread in s.
func (s ThreadState) IsWorkable() bool { return s == Active }

// ThreadMetadata is the descriptive part of a thread.
type ThreadMetadata struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	ParentID    string            `json:"parent_id,omitempty"`
	Related     []string          `json:"related,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Clone deep-copies m.
func (m ThreadMetadata) Clone() ThreadMetadata {
	m.Tags = cloneStrings(m.Tags)
	m.Related = cloneStrings(m.Related)
	m.Extra = cloneMap(m.Extra)
	return m
}

// Thread is a unit of research work.
type Thread struct {
	ID          string                  `json:"id"`
	State       ThreadState             `json:"state"`
	Temperature temperature.Temperature `json:"temperature"`
	Metadata    ThreadMetadata          `json:"metadata"`
	ClaimedBy   string                  `json:"claimed_by,omitempty"`
	ClaimedAt   time.Time               `json:"claimed_at,omitempty"`
	ArtifactIDs []string                `json:"artifact_ids,omitempty"`
	MergedInto  string                  `json:"merged_into,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
	Version     int64                   `json:"version"`
}

// NewThread returns an Embryo thread with a neutral temperature.
func NewThread(id string, meta ThreadMetadata, at time.Time) *Thread {
	return &Thread{
		ID:          id,
		State:       Embryo,
		Temperature: temperature.New(at),
		Metadata:    meta.Clone(),
		CreatedAt:   at,
		UpdatedAt:   at,
		Version:     1,
	}
}

// Clone deep-copies t.
func (t *Thread) Clone() *Thread {
	c := *t
	c.Metadata = t.Metadata.Clone()
	c.ArtifactIDs = cloneStrings(t.ArtifactIDs)
	return &c
}

// Touch records a mutation at at.
func (t *Thread) Touch(at time.Time) {
	t.Version++
	t.UpdatedAt = at
}

// Transition moves t to the target state if the edge is legal.
func (t *Thread) Transition(to ThreadState, at time.Time) error {
	if !t.State.CanTransitionTo(to) {
		return &TransitionError{ThreadID: t.ID, From: t.State, To: to}
	}
	t.State = to
	t.Touch(at)
	return nil
}

// CheckClaim reports whether agentID could claim t now.
func (t *Thread) CheckClaim(agentID string) error {
	if !t.State.IsClaimable() || t.MergedInto != "" {
		return &ClaimError{ThreadID: t.ID, AgentID: agentID, State: t.State, Err: ErrNotClaimable}
	}
	if t.ClaimedBy != "" && t.ClaimedBy != agentID {
		return &ClaimError{ThreadID: t.ID, AgentID: agentID, HeldBy: t.ClaimedBy, State: t.State, Err: ErrAlreadyClaimed}
	}
	return nil
}

// Claim records agentID as the claimant.
func (t *Thread) Claim(agentID string, at time.Time) error {
	if err := t.CheckClaim(agentID); err != nil {
		return err
	}
	t.ClaimedBy = agentID
	t.ClaimedAt = at
	t.Touch(at)
	return nil
}

// Release clears the claim and returns the previous claimant.
func (t *Thread) Release(at time.Time) string {
	prev := t.ClaimedBy
	t.ClaimedBy = ""
	t.ClaimedAt = time.Time{}
	t.Touch(at)
	return prev
}

// IsAvailable reports whether t is unclaimed and claimable. A thread
// merged into another is never available.
func (t *Thread) IsAvailable() bool {
	return t.ClaimedBy == "" && t.MergedInto == "" && t.State.IsClaimable()
}

// AddArtifact links an artifact id to t.
func (t *Thread) AddArtifact(artifactID string, at time.Time) {
	t.ArtifactIDs = appendUnique(t.ArtifactIDs, artifactID)
	t.Touch(at)
}

// Absorb merges source's artifacts, related ids and tags into t.
func (t *Thread) Absorb(source *Thread, at time.Time) {
	t.ArtifactIDs = appendUnique(t.ArtifactIDs, source.ArtifactIDs...)
	t.Metadata.Related = appendUnique(t.Metadata.Related, source.ID)
	for _, id := range source.Metadata.Related {
		if id != t.ID {
			t.Metadata.Related = appendUnique(t.Metadata.Related, id)
		}
	}
	t.Metadata.Tags = appendUnique(t.Metadata.Tags, source.Metadata.Tags...)
	t.Touch(at)
}
