package model

import (
	"fmt"
	"time"
)

// AgentType fixes what an agent can do.
type AgentType string

const (
	ResearchAgent     AgentType = "research"
	CodeAgent         AgentType = "code"
	VerificationAgent AgentType = "verification"
	AdversarialAgent  AgentType = "adversarial"
	ReviewAgent       AgentType = "review"
	LibrarianAgent    AgentType = "librarian"
)

// AgentTypes lists every agent type.
var AgentTypes = []AgentType{ResearchAgent, CodeAgent, VerificationAgent, AdversarialAgent, ReviewAgent, LibrarianAgent}

// ParseAgentType validates s.
func ParseAgentType(s string) (AgentType, error) {
	t := AgentType(s)
	if _, ok := capabilities[t]; !ok {
		return "", fmt.Errorf("%w: unknown agent type %q", ErrInvalidCommand, s)
	}
	return t, nil
}

// Capability is one thing an agent type is able to do.
type Capability string

const (
	CapSearch     Capability = "search"
	CapRead       Capability = "read"
	CapSummarize  Capability = "summarize"
	CapWriteCode  Capability = "write_code"
	CapRunTests   Capability = "run_tests"
	CapVerify     Capability = "verify"
	CapCritique   Capability = "critique"
	CapReview     Capability = "review"
	CapApprove    Capability = "approve"
	CapCatalog    Capability = "catalog"
	CapCite       Capability = "cite"
	CapAnnotate   Capability = "annotate"
	CapReproduce  Capability = "reproduce"
	CapStressTest Capability = "stress_test"
)

var capabilities = map[AgentType][]Capability{
	ResearchAgent:     {CapSearch, CapRead, CapSummarize, CapAnnotate},
	CodeAgent:         {CapRead, CapWriteCode, CapRunTests},
	VerificationAgent: {CapRead, CapVerify, CapRunTests, CapReproduce},
	AdversarialAgent:  {CapRead, CapCritique, CapStressTest},
	ReviewAgent:       {CapRead, CapReview, CapApprove, CapAnnotate},
	LibrarianAgent:    {CapSearch, CapCatalog, CapCite},
}

// Capabilities returns the fixed capability set of t.
func (t AgentType) Capabilities() []Capability {
	caps := capabilities[t]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// Can reports whether t has capability c.
func (t AgentType) Can(c Capability) bool {
	for _, x := range capabilities[t] {
		if x == c {
			return true
		}
	}
	return false
}

// AgentStatus is the lifecycle status of an agent.
type AgentStatus string

const (
	Idle       AgentStatus = "idle"
	Working    AgentStatus = "working"
	Paused     AgentStatus = "paused"
	Terminated AgentStatus = "terminated"
)

// Agent is a registered worker.
type Agent struct {
	ID               string            `json:"id"`
	Type             AgentType         `json:"type"`
	Status           AgentStatus       `json:"status"`
	CurrentThread    string            `json:"current_thread,omitempty"`
	TokenDigest      string            `json:"-"`
	RegisteredAt     time.Time         `json:"registered_at"`
	LastActiveAt     time.Time         `json:"last_active_at"`
	ThreadsCompleted int64             `json:"threads_completed"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// NewAgent returns an idle agent. tokenDigest is the hex digest of its
// auth token; the token itself is never stored.
func NewAgent(id string, typ AgentType, tokenDigest string, at time.Time) *Agent {
	return &Agent{
		ID:           id,
		Type:         typ,
		Status:       Idle,
		TokenDigest:  tokenDigest,
		RegisteredAt: at,
		LastActiveAt: at,
	}
}

// Clone deep-copies a.
func (a *Agent) Clone() *Agent {
	c := *a
	c.Metadata = cloneMap(a.Metadata)
	return &c
}

// IsActive reports whether a has not been terminated.
func (a *Agent) IsActive() bool { return a.Status != Terminated }

// Assign starts work on threadID. Only idle agents accept work.
func (a *Agent) Assign(threadID string, at time.Time) error {
	if a.Status != Idle {
		return &AgentStatusError{AgentID: a.ID, Status: a.Status, Op: "assign " + threadID}
	}
	a.Status = Working
	a.CurrentThread = threadID
	a.LastActiveAt = at
	return nil
}

// CompleteThread finishes the current thread and counts it.
func (a *Agent) CompleteThread(at time.Time) error {
	if a.Status != Working {
		return &AgentStatusError{AgentID: a.ID, Status: a.Status, Op: "complete thread"}
	}
	a.Status = Idle
	a.CurrentThread = ""
	a.ThreadsCompleted++
	a.LastActiveAt = at
	return nil
}

// Unassign drops the current thread without counting it. A paused
// agent stays paused.
func (a *Agent) Unassign(at time.Time) error {
	if a.CurrentThread == "" || a.Status == Terminated {
		return &AgentStatusError{AgentID: a.ID, Status: a.Status, Op: "unassign"}
	}
	a.CurrentThread = ""
	if a.Status == Working {
		a.Status = Idle
	}
	a.LastActiveAt = at
	return nil
}

// Pause suspends a non-terminated agent.
func (a *Agent) Pause(at time.Time) error {
	if a.Status == Terminated || a.Status == Paused {
		return &AgentStatusError{AgentID: a.ID, Status: a.Status, Op: "pause"}
	}
	a.Status = Paused
	a.LastActiveAt = at
	return nil
}

// Resume returns a paused agent to Working if it still holds a thread,
// otherwise to Idle.
func (a *Agent) Resume(at time.Time) error {
	if a.Status != Paused {
		return &AgentStatusError{AgentID: a.ID, Status: a.Status, Op: "resume"}
	}
	if a.CurrentThread != "" {
		a.Status = Working
	} else {
		a.Status = Idle
	}
	a.LastActiveAt = at
	return nil
}

// Terminate is final and clears the current thread.
func (a *Agent) Terminate(at time.Time) error {
	if a.Status == Terminated {
		return &AgentStatusError{AgentID: a.ID, Status: a.Status, Op: "terminate"}
	}
	a.Status = Terminated
	a.CurrentThread = ""
	a.LastActiveAt = at
	return nil
}
