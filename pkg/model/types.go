// Package model defines the core domain types for threadmill.
//
// Threadmill coordinates a pool of autonomous agents working on units of
// research ("threads") inside one project. Three kinds of record live here:
//
//   - Thread: a unit of work with a lifecycle state machine, a decaying
//     temperature used to rank it for attention, and an optional claim by
//     one agent.
//
//   - Agent: a worker identity with a fixed capability set and a status
//     that callers drive through assign/complete/pause/resume/terminate.
//
//   - Escalation: a request for human attention, ordered by priority.
//
// Cross references (Thread.ClaimedBy, Agent.CurrentThread) are plain ids.
// Each record is owned by its own table and resolved through it; no
// record holds a pointer into another.
package model

import "time"

// cloneStrings returns a copy of s, preserving nil.
func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// cloneMap returns a copy of m, preserving nil.
func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// appendUnique appends v to s unless already present.
func appendUnique(s []string, v ...string) []string {
	for _, x := range v {
		if x == "" || contains(s, x) {
			continue
		}
		s = append(s, x)
	}
	return s
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Message is a note sent between agents (or from a human to an agent).
type Message struct {
	ID     string    `json:"id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
	ReadAt time.Time `json:"read_at,omitempty"`
}

// Read reports whether the recipient has read the message.
func (m Message) Read() bool { return !m.ReadAt.IsZero() }

// Artifact is an output produced while working on a thread.
type Artifact struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Kind       string    `json:"kind"`
	Path       string    `json:"path"`
	Summary    string    `json:"summary,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Revision   int64     `json:"revision"`
}
