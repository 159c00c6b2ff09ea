package command

import (
	"fmt"

	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/projection"
)

// Broadcast addresses a message to every agent.
const Broadcast = "*"

// SendMessage delivers a note to an agent, or to Broadcast.
type SendMessage struct {
	Meta
	From string
	To   string
	Body string
}

func (SendMessage) Name() string { return "send_message" }

func (c SendMessage) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	for _, f := range [][2]string{{"from", c.From}, {"to", c.To}, {"body", c.Body}} {
		if err := required(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	id := env.id("msg")
	if _, taken := p.Message(id); taken {
		return nil, invalid("message id %q collides", id)
	}
	return drafts(event.NewDraft(id, event.MessageSent{From: c.From, To: c.To, Body: c.Body})), nil
}

// MarkRead marks a message read by its recipient. Already read
// messages yield no events.
type MarkRead struct {
	Meta
	MessageID string
	Reader    string
}

func (MarkRead) Name() string { return "mark_read" }

func (c MarkRead) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	m, ok := p.Message(c.MessageID)
	if !ok {
		return nil, invalid("message %q not found", c.MessageID)
	}
	if m.To != c.Reader && m.To != Broadcast {
		return nil, fmt.Errorf("read %q: %w: addressed to %s", m.ID, model.ErrNotAuthorized, m.To)
	}
	if m.Read() {
		return nil, nil
	}
	return drafts(event.NewDraft(m.ID, event.MessageRead{Reader: c.Reader})), nil
}

// CreateEscalation asks a human for attention.
type CreateEscalation struct {
	Meta
	Category    string
	Title       string
	Description string
	ReporterID  string
	Priority    model.Priority
}

func (CreateEscalation) Name() string { return "create_escalation" }

func (c CreateEscalation) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	if err := required("title", c.Title); err != nil {
		return nil, err
	}
	if c.Priority < model.Low || c.Priority > model.Critical {
		return nil, invalid("priority %d out of range", int(c.Priority))
	}
	category := c.Category
	if category == "" {
		category = "general"
	}
	id := env.id("esc")
	if _, err := p.Escalation(id); err == nil {
		return nil, invalid("escalation id %q collides", id)
	}
	return drafts(event.NewDraft(id, event.EscalationCreated{
		Category:   category,
		Title:      c.Title,
		Details:    c.Description,
		ReporterID: c.ReporterID,
		Priority:   c.Priority,
	})), nil
}

// AcknowledgeEscalation records that a human has seen an escalation.
type AcknowledgeEscalation struct {
	Meta
	EscalationID string
	By           string
}

func (AcknowledgeEscalation) Name() string { return "acknowledge_escalation" }

func (c AcknowledgeEscalation) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	x, err := p.Escalation(c.EscalationID)
	if err != nil {
		return nil, err
	}
	if err := x.Acknowledge(c.By, env.Now); err != nil {
		return nil, err
	}
	return drafts(event.NewDraft(x.ID, event.EscalationAcknowledged{By: c.By})), nil
}

// ResolveEscalation closes an escalation with a non-empty resolution.
type ResolveEscalation struct {
	Meta
	EscalationID string
	By           string
	Resolution   string
}

func (ResolveEscalation) Name() string { return "resolve_escalation" }

func (c ResolveEscalation) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	x, err := p.Escalation(c.EscalationID)
	if err != nil {
		return nil, err
	}
	if err := x.Resolve(c.By, c.Resolution, env.Now); err != nil {
		return nil, err
	}
	return drafts(event.NewDraft(x.ID, event.EscalationResolved{By: c.By, Resolution: c.Resolution})), nil
}

// AddArtifact records an output and links it to ThreadID when set.
type AddArtifact struct {
	Meta
	ID       string
	ThreadID string
	Kind     string
	Path     string
	Summary  string
}

func (AddArtifact) Name() string { return "add_artifact" }

func (c AddArtifact) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	if err := required("path", c.Path); err != nil {
		return nil, err
	}
	if c.ThreadID != "" && !p.HasThread(c.ThreadID) {
		return nil, model.NotFound(model.ErrThreadNotFound, c.ThreadID)
	}
	id := c.ID
	if id == "" {
		id = env.id("art")
	}
	if _, taken := p.Artifact(id); taken {
		return nil, invalid("artifact %q already exists", id)
	}
	kind := c.Kind
	if kind == "" {
		kind = "file"
	}
	ds := drafts(event.NewDraft(id, event.ArtifactCreated{
		ThreadID:     c.ThreadID,
		ArtifactKind: kind,
		Path:         c.Path,
		Summary:      c.Summary,
	}))
	if c.ThreadID != "" {
		ds = append(ds, event.NewDraft(c.ThreadID, event.ThreadArtifactAdded{ArtifactID: id}))
	}
	return ds, nil
}

// ModifyArtifact updates an artifact's path or summary.
type ModifyArtifact struct {
	Meta
	ArtifactID string
	Path       string
	Summary    string
}

func (ModifyArtifact) Name() string { return "modify_artifact" }

func (c ModifyArtifact) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	if _, ok := p.Artifact(c.ArtifactID); !ok {
		return nil, invalid("artifact %q not found", c.ArtifactID)
	}
	if c.Path == "" && c.Summary == "" {
		return nil, invalid("nothing to modify")
	}
	return drafts(event.NewDraft(c.ArtifactID, event.ArtifactModified{Path: c.Path, Summary: c.Summary})), nil
}

// PauseSystem stops new claims. Pausing twice is a no-op.
type PauseSystem struct {
	Meta
	Reason string
}

func (PauseSystem) Name() string { return "pause_system" }

func (c PauseSystem) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	if paused, _ := p.Paused(); paused {
		return nil, nil
	}
	return drafts(event.NewDraft(event.SystemEntityID, event.SystemPaused{Reason: c.Reason})), nil
}

// ResumeSystem lifts a pause. Resuming a running system is a no-op.
type ResumeSystem struct {
	Meta
}

func (ResumeSystem) Name() string { return "resume_system" }

func (c ResumeSystem) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	if paused, _ := p.Paused(); !paused {
		return nil, nil
	}
	return drafts(event.NewDraft(event.SystemEntityID, event.SystemResumed{})), nil
}

// RecordSnapshot notes that state up to the current sequence has been
// persisted.
type RecordSnapshot struct {
	Meta
	Reason string
}

func (RecordSnapshot) Name() string { return "record_snapshot" }

func (c RecordSnapshot) Decide(p *projection.Projection, env Env) ([]event.Draft, error) {
	return drafts(event.NewDraft(event.SystemEntityID, event.SnapshotCreated{
		Sequence: p.Sequence(),
		Reason:   c.Reason,
	})), nil
}
