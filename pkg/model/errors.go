package model

import (
	"errors"
	"fmt"
)

// Thread errors.
var (
	ErrThreadNotFound    = errors.New("thread not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAlreadyClaimed    = errors.New("thread already claimed")
	ErrNotClaimable      = errors.New("thread not claimable")
)

// Agent errors.
var (
	ErrAgentNotFound          = errors.New("agent not found")
	ErrAgentAlreadyRegistered = errors.New("agent already registered")
	ErrNotAuthorized          = errors.New("not authorized")
	ErrAgentBusy              = errors.New("agent busy")
)

// Event errors.
var (
	ErrEventNotFound    = errors.New("event not found")
	ErrInvalidSequence  = errors.New("invalid event sequence")
	ErrAlreadyProcessed = errors.New("event already processed")
	ErrProjection       = errors.New("projection failure")
)

// Escalation errors.
var (
	ErrEscalationNotFound = errors.New("escalation not found")
	ErrAlreadyResolved    = errors.New("escalation already resolved")
	ErrInvalidResolution  = errors.New("invalid resolution")
)

// Command errors.
var (
	ErrSystemPaused   = errors.New("system paused")
	ErrInvalidCommand = errors.New("invalid command")
)

// TransitionError reports a rejected lifecycle transition.
type TransitionError struct {
	ThreadID string
	From     ThreadState
	To       ThreadState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for thread %q: %s -> %s", e.ThreadID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ClaimError reports a rejected claim.
type ClaimError struct {
	ThreadID string
	AgentID  string
	HeldBy   string
	State    ThreadState
	Err      error
}

func (e *ClaimError) Error() string {
	if e.HeldBy != "" {
		return fmt.Sprintf("claim %q for %s: held by %s: %v", e.ThreadID, e.AgentID, e.HeldBy, e.Err)
	}
	return fmt.Sprintf("claim %q for %s: state %s: %v", e.ThreadID, e.AgentID, e.State, e.Err)
}

func (e *ClaimError) Unwrap() error { return e.Err }

// AgentStatusError reports an agent operation its status does not allow.
type AgentStatusError struct {
	AgentID string
	Status  AgentStatus
	Op      string
}

func (e *AgentStatusError) Error() string {
	return fmt.Sprintf("agent %s: cannot %s while %s", e.AgentID, e.Op, e.Status)
}

func (e *AgentStatusError) Unwrap() error { return ErrAgentBusy }

// ProjectionError wraps a failure to fold an event. It matches both
// ErrProjection and the underlying cause under errors.Is.
type ProjectionError struct {
	Sequence int64
	Kind     string
	Err      error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection: fold event %d (%s): %v", e.Sequence, e.Kind, e.Err)
}

func (e *ProjectionError) Unwrap() []error { return []error{ErrProjection, e.Err} }

// NotFound builds a not-found error for id wrapping sentinel.
func NotFound(sentinel error, id string) error {
	return fmt.Errorf("%w: %q", sentinel, id)
}

// IsValidation reports whether err is a recoverable rejection: the
// caller can correct its input and retry. Projection failures and
// anything unrecognised are not validation errors.
func IsValidation(err error) bool {
	if err == nil || errors.Is(err, ErrProjection) {
		return false
	}
	for _, target := range []error{
		ErrThreadNotFound, ErrInvalidTransition, ErrAlreadyClaimed, ErrNotClaimable,
		ErrAgentNotFound, ErrAgentAlreadyRegistered, ErrNotAuthorized, ErrAgentBusy,
		ErrEventNotFound, ErrInvalidSequence, ErrAlreadyProcessed,
		ErrEscalationNotFound, ErrAlreadyResolved, ErrInvalidResolution,
		ErrSystemPaused, ErrInvalidCommand,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
