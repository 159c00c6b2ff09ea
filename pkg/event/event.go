// Package event defines the append-only record of everything that
// happened in a project, and the Log that orders it.
//
// An Event is immutable once appended. Its Sequence is assigned by the
// Log at append time and is gap-free. Its Payload is one variant of a
// closed sum type (see payload.go); the projection is the single place
// that interprets payloads, and it switches over every variant.
//
// Correlation and causation ids link events: all events emitted by one
// command share a CorrelationID, and each names the event that caused
// it in CausationID.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType names the kind of entity an event is about.
type EntityType string

const (
	EntityThread     EntityType = "thread"
	EntityAgent      EntityType = "agent"
	EntityMessage    EntityType = "message"
	EntityEscalation EntityType = "escalation"
	EntityArtifact   EntityType = "artifact"
	EntitySystem     EntityType = "system"
)

// ParseEntityType accepts an entity type name, case-insensitively.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case EntityThread, EntityAgent, EntityMessage, EntityEscalation, EntityArtifact, EntitySystem:
		return t, nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// UnmarshalText accepts any casing ("Thread", "thread").
func (t *EntityType) UnmarshalText(b []byte) error {
	v, err := ParseEntityType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// SystemEntityID is the entity id of system-wide events.
const SystemEntityID = "system"

// Event is a single entry in the append-only log.
type Event struct {
	ID            string
	Sequence      int64
	Timestamp     time.Time
	EntityID      string
	EntityType    EntityType
	Payload       Payload
	ActorID       string
	CorrelationID string
	CausationID   string
}

// Kind returns the payload kind.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Description returns the payload's one-line summary.
func (e Event) Description() string {
	if e.Payload == nil {
		return "(empty event)"
	}
	return e.Payload.Description()
}

// Validate checks that e is well formed. The sequence is not checked:
// the log assigns it.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("event: missing id")
	case e.Payload == nil:
		return fmt.Errorf("event %s: missing payload", e.ID)
	case e.EntityID == "":
		return fmt.Errorf("event %s: missing entity id", e.ID)
	case e.Timestamp.IsZero():
		return fmt.Errorf("event %s: missing timestamp", e.ID)
	}
	if want := e.Payload.EntityType(); e.EntityType != want {
		return fmt.Errorf("event %s: %s payload applies to %s, not %s", e.ID, e.Kind(), want, e.EntityType)
	}
	return nil
}

// wireEvent is the JSON form of an Event.
type wireEvent struct {
	ID            string     `json:"id"`
	Sequence      int64      `json:"sequence"`
	Timestamp     time.Time  `json:"timestamp"`
	EntityID      string     `json:"entity_id"`
	EntityType    EntityType `json:"entity_type"`
	Payload       Envelope   `json:"payload"`
	Description   string     `json:"description,omitempty"`
	ActorID       string     `json:"actor_id,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	CausationID   string     `json:"causation_id,omitempty"`
}

// MarshalJSON encodes the payload as a discriminated {type, data} object.
func (e Event) MarshalJSON() ([]byte, error) {
	env, err := Wrap(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		ID:            e.ID,
		Sequence:      e.Sequence,
		Timestamp:     e.Timestamp,
		EntityID:      e.EntityID,
		EntityType:    e.EntityType,
		Payload:       env,
		Description:   e.Description(),
		ActorID:       e.ActorID,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
	})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := w.Payload.Decode()
	if err != nil {
		return err
	}
	*e = Event{
		ID:            w.ID,
		Sequence:      w.Sequence,
		Timestamp:     w.Timestamp,
		EntityID:      w.EntityID,
		EntityType:    w.EntityType,
		Payload:       p,
		ActorID:       w.ActorID,
		CorrelationID: w.CorrelationID,
		CausationID:   w.CausationID,
	}
	return nil
}

// Draft is an event a command has decided on but not yet stamped. The
// aggregate assigns id, timestamp, actor, correlation, causation and
// sequence when it applies the draft.
type Draft struct {
	EntityID   string
	EntityType EntityType
	Payload    Payload
}

// NewDraft builds a draft whose entity type follows from the payload.
func NewDraft(entityID string, p Payload) Draft {
	return Draft{EntityID: entityID, EntityType: p.EntityType(), Payload: p}
}
