package event

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/temperature"
)

// Kind discriminates payload variants on the wire and in storage.
type Kind string

const (
	KindThreadCreated            Kind = "thread.created"
	KindThreadStateChanged       Kind = "thread.state_changed"
	KindThreadClaimed            Kind = "thread.claimed"
	KindThreadReleased           Kind = "thread.released"
	KindThreadTemperatureChanged Kind = "thread.temperature_changed"
	KindThreadMerged             Kind = "thread.merged"
	KindThreadArtifactAdded      Kind = "thread.artifact_added"

	KindAgentRegistered    Kind = "agent.registered"
	KindAgentStatusChanged Kind = "agent.status_changed"
	KindAgentTerminated    Kind = "agent.terminated"

	KindMessageSent Kind = "message.sent"
	KindMessageRead Kind = "message.read"

	KindEscalationCreated      Kind = "escalation.created"
	KindEscalationAcknowledged Kind = "escalation.acknowledged"
	KindEscalationResolved     Kind = "escalation.resolved"

	KindArtifactCreated  Kind = "artifact.created"
	KindArtifactModified Kind = "artifact.modified"

	KindSystemPaused    Kind = "system.paused"
	KindSystemResumed   Kind = "system.resumed"
	KindSnapshotCreated Kind = "system.snapshot_created"
)

// Payload is the closed set of facts an event can record. The
// unexported method keeps implementations inside this package.
type Payload interface {
	Kind() Kind
	EntityType() EntityType
	Description() string
	sealed()
}

// --- Thread ---

type ThreadCreated struct {
	Title    string            `json:"title"`
	Details  string            `json:"description,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	ParentID string            `json:"parent_id,omitempty"`
	Related  []string          `json:"related,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

func (ThreadCreated) Kind() Kind             { return KindThreadCreated }
func (ThreadCreated) EntityType() EntityType { return EntityThread }
func (p ThreadCreated) Description() string  { return fmt.Sprintf("Thread created: %q", p.Title) }
func (ThreadCreated) sealed()                {}

// Metadata returns the thread metadata this event creates.
func (p ThreadCreated) Metadata() model.ThreadMetadata {
	return model.ThreadMetadata{
		Title:       p.Title,
		Description: p.Details,
		Tags:        p.Tags,
		ParentID:    p.ParentID,
		Related:     p.Related,
		Extra:       p.Extra,
	}
}

type ThreadStateChanged struct {
	From   model.ThreadState `json:"from"`
	To     model.ThreadState `json:"to"`
	Reason string            `json:"reason,omitempty"`
}

func (ThreadStateChanged) Kind() Kind             { return KindThreadStateChanged }
func (ThreadStateChanged) EntityType() EntityType { return EntityThread }
func (p ThreadStateChanged) Description() string {
	return withReason(fmt.Sprintf("State: %s → %s", p.From, p.To), p.Reason)
}
func (ThreadStateChanged) sealed() {}

type ThreadClaimed struct {
	AgentID string `json:"agent_id"`
}

func (ThreadClaimed) Kind() Kind             { return KindThreadClaimed }
func (ThreadClaimed) EntityType() EntityType { return EntityThread }
func (p ThreadClaimed) Description() string  { return "Thread claimed by " + p.AgentID }
func (ThreadClaimed) sealed()                {}

type ThreadReleased struct {
	AgentID string `json:"agent_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (ThreadReleased) Kind() Kind             { return KindThreadReleased }
func (ThreadReleased) EntityType() EntityType { return EntityThread }
func (p ThreadReleased) Description() string {
	s := "Thread released"
	if p.AgentID != "" {
		s += " by " + p.AgentID
	}
	return withReason(s, p.Reason)
}
func (ThreadReleased) sealed() {}

// ThreadTemperatureChanged carries the complete resulting temperature so
// replay assigns it instead of recomputing it.
type ThreadTemperatureChanged struct {
	Old    float64                 `json:"old"`
	New    temperature.Temperature `json:"new"`
	Reason string                  `json:"reason,omitempty"`
}

func (ThreadTemperatureChanged) Kind() Kind             { return KindThreadTemperatureChanged }
func (ThreadTemperatureChanged) EntityType() EntityType { return EntityThread }
func (p ThreadTemperatureChanged) Description() string {
	return withReason(fmt.Sprintf("Temperature: %.2f → %.2f", p.Old, p.New.Value), p.Reason)
}
func (ThreadTemperatureChanged) sealed() {}

// ThreadMerged is recorded against the target thread.
type ThreadMerged struct {
	SourceID string `json:"source_id"`
}

func (ThreadMerged) Kind() Kind             { return KindThreadMerged }
func (ThreadMerged) EntityType() EntityType { return EntityThread }
func (p ThreadMerged) Description() string  { return "Merged thread " + p.SourceID }
func (ThreadMerged) sealed()                {}

type ThreadArtifactAdded struct {
	ArtifactID string `json:"artifact_id"`
}

func (ThreadArtifactAdded) Kind() Kind             { return KindThreadArtifactAdded }
func (ThreadArtifactAdded) EntityType() EntityType { return EntityThread }
func (p ThreadArtifactAdded) Description() string  { return "Artifact added: " + p.ArtifactID }
func (ThreadArtifactAdded) sealed()                {}

// --- Agent ---

type AgentRegistered struct {
	AgentType   model.AgentType   `json:"agent_type"`
	TokenDigest string            `json:"token_digest,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (AgentRegistered) Kind() Kind             { return KindAgentRegistered }
func (AgentRegistered) EntityType() EntityType { return EntityAgent }
func (p AgentRegistered) Description() string {
	return fmt.Sprintf("Agent registered (%s)", p.AgentType)
}
func (AgentRegistered) sealed() {}

// AgentTransition names the lifecycle operation behind a status change.
type AgentTransition string

const (
	AgentAssigned   AgentTransition = "assigned"
	AgentCompleted  AgentTransition = "completed"
	AgentUnassigned AgentTransition = "unassigned"
	AgentPaused     AgentTransition = "paused"
	AgentResumed    AgentTransition = "resumed"
)

type AgentStatusChanged struct {
	From       model.AgentStatus `json:"from"`
	To         model.AgentStatus `json:"to"`
	Transition AgentTransition   `json:"transition"`
	ThreadID   string            `json:"thread_id,omitempty"`
}

func (AgentStatusChanged) Kind() Kind             { return KindAgentStatusChanged }
func (AgentStatusChanged) EntityType() EntityType { return EntityAgent }
func (p AgentStatusChanged) Description() string {
	s := fmt.Sprintf("Agent %s: %s → %s", p.Transition, p.From, p.To)
	if p.ThreadID != "" {
		s += " (" + p.ThreadID + ")"
	}
	return s
}
func (AgentStatusChanged) sealed() {}

type AgentTerminated struct {
	Reason string `json:"reason,omitempty"`
}

func (AgentTerminated) Kind() Kind             { return KindAgentTerminated }
func (AgentTerminated) EntityType() EntityType { return EntityAgent }
func (p AgentTerminated) Description() string  { return withReason("Agent terminated", p.Reason) }
func (AgentTerminated) sealed()                {}

// --- Message ---

type MessageSent struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

func (MessageSent) Kind() Kind             { return KindMessageSent }
func (MessageSent) EntityType() EntityType { return EntityMessage }
func (p MessageSent) Description() string {
	return fmt.Sprintf("Message from %s to %s: %s", p.From, p.To, truncate(p.Body, 60))
}
func (MessageSent) sealed() {}

type MessageRead struct {
	Reader string `json:"reader"`
}

func (MessageRead) Kind() Kind             { return KindMessageRead }
func (MessageRead) EntityType() EntityType { return EntityMessage }
func (p MessageRead) Description() string  { return "Message read by " + p.Reader }
func (MessageRead) sealed()                {}

// --- Escalation ---

type EscalationCreated struct {
	Category   string         `json:"category"`
	Title      string         `json:"title"`
	Details    string         `json:"description,omitempty"`
	ReporterID string         `json:"reporter_id"`
	Priority   model.Priority `json:"priority"`
}

func (EscalationCreated) Kind() Kind             { return KindEscalationCreated }
func (EscalationCreated) EntityType() EntityType { return EntityEscalation }
func (p EscalationCreated) Description() string {
	return fmt.Sprintf("Escalation [%s] %s: %s", p.Priority, p.Category, p.Title)
}
func (EscalationCreated) sealed() {}

type EscalationAcknowledged struct {
	By string `json:"by"`
}

func (EscalationAcknowledged) Kind() Kind             { return KindEscalationAcknowledged }
func (EscalationAcknowledged) EntityType() EntityType { return EntityEscalation }
func (p EscalationAcknowledged) Description() string  { return "Escalation acknowledged by " + p.By }
func (EscalationAcknowledged) sealed()                {}

type EscalationResolved struct {
	By         string `json:"by"`
	Resolution string `json:"resolution"`
}

func (EscalationResolved) Kind() Kind             { return KindEscalationResolved }
func (EscalationResolved) EntityType() EntityType { return EntityEscalation }
func (p EscalationResolved) Description() string {
	return fmt.Sprintf("Escalation resolved by %s: %s", p.By, truncate(p.Resolution, 60))
}
func (EscalationResolved) sealed() {}

// --- Artifact ---

type ArtifactCreated struct {
	ThreadID     string `json:"thread_id,omitempty"`
	ArtifactKind string `json:"kind"`
	Path         string `json:"path"`
	Summary      string `json:"summary,omitempty"`
}

func (ArtifactCreated) Kind() Kind             { return KindArtifactCreated }
func (ArtifactCreated) EntityType() EntityType { return EntityArtifact }
func (p ArtifactCreated) Description() string {
	return fmt.Sprintf("Artifact created (%s): %s", p.ArtifactKind, p.Path)
}
func (ArtifactCreated) sealed() {}

type ArtifactModified struct {
	Path    string `json:"path,omitempty"`
	Summary string `json:"summary,omitempty"`
}

func (ArtifactModified) Kind() Kind             { return KindArtifactModified }
func (ArtifactModified) EntityType() EntityType { return EntityArtifact }
func (p ArtifactModified) Description() string {
	if p.Path != "" {
		return "Artifact modified: " + p.Path
	}
	return "Artifact modified"
}
func (ArtifactModified) sealed() {}

// --- System ---

type SystemPaused struct {
	Reason string `json:"reason,omitempty"`
}

func (SystemPaused) Kind() Kind             { return KindSystemPaused }
func (SystemPaused) EntityType() EntityType { return EntitySystem }
func (p SystemPaused) Description() string  { return withReason("System paused", p.Reason) }
func (SystemPaused) sealed()                {}

type SystemResumed struct{}

func (SystemResumed) Kind() Kind             { return KindSystemResumed }
func (SystemResumed) EntityType() EntityType { return EntitySystem }
func (SystemResumed) Description() string    { return "System resumed" }
func (SystemResumed) sealed()                {}

// SnapshotCreated marks that state up to Sequence was persisted.
type SnapshotCreated struct {
	Sequence int64  `json:"sequence"`
	Reason   string `json:"reason,omitempty"`
}

func (SnapshotCreated) Kind() Kind             { return KindSnapshotCreated }
func (SnapshotCreated) EntityType() EntityType { return EntitySystem }
func (p SnapshotCreated) Description() string {
	return withReason(fmt.Sprintf("Snapshot at sequence %d", p.Sequence), p.Reason)
}
func (SnapshotCreated) sealed() {}

func withReason(s, reason string) string {
	if reason == "" {
		return s
	}
	return s + ": " + reason
}

// truncate collapses whitespace and cuts s to at most n bytes, backing
// off to a rune boundary.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
