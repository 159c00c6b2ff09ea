package model

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders escalations: Low < Medium < High < Critical.
type Priority int

const (
	Low Priority = iota
	Medium
	High
	Critical
)

var priorityNames = [...]string{"low", "medium", "high", "critical"}

func (p Priority) String() string {
	if p < Low || p > Critical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority accepts a priority name, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	return Low, fmt.Errorf("%w: unknown priority %q", ErrInvalidCommand, s)
}

// MarshalText encodes p by name.
func (p Priority) MarshalText() ([]byte, error) {
	if p < Low || p > Critical {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// EscalationStatus tracks human handling of an escalation.
type EscalationStatus string

const (
	EscalationOpen         EscalationStatus = "open"
	EscalationAcknowledged EscalationStatus = "acknowledged"
	EscalationResolved     EscalationStatus = "resolved"
)

// Escalation is a flagged item needing a human.
type Escalation struct {
	ID             string           `json:"id"`
	Category       string           `json:"category"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	ReporterID     string           `json:"reporter_id"`
	Priority       Priority         `json:"priority"`
	Status         EscalationStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	AcknowledgedBy string           `json:"acknowledged_by,omitempty"`
	AcknowledgedAt time.Time        `json:"acknowledged_at,omitempty"`
	ResolvedBy     string           `json:"resolved_by,omitempty"`
	Resolution     string           `json:"resolution,omitempty"`
	ResolvedAt     time.Time        `json:"resolved_at,omitempty"`
}

// IsOpen reports whether e still needs resolution. Acknowledged
// escalations are open.
func (e *Escalation) IsOpen() bool { return e.Status != EscalationResolved }

// Acknowledge marks e as seen by a human.
func (e *Escalation) Acknowledge(by string, at time.Time) error {
	if e.Status == EscalationResolved {
		return fmt.Errorf("acknowledge %s: %w", e.ID, ErrAlreadyResolved)
	}
	e.Status = EscalationAcknowledged
	e.AcknowledgedBy = by
	e.AcknowledgedAt = at
	return nil
}

// Resolve closes e. The resolution text must be non-empty.
func (e *Escalation) Resolve(by, resolution string, at time.Time) error {
	if e.Status == EscalationResolved {
		return fmt.Errorf("resolve %s: %w", e.ID, ErrAlreadyResolved)
	}
	if strings.TrimSpace(resolution) == "" {
		return fmt.Errorf("resolve %s: %w: empty resolution", e.ID, ErrInvalidResolution)
	}
	e.Status = EscalationResolved
	e.ResolvedBy = by
	e.Resolution = resolution
	e.ResolvedAt = at
	return nil
}
