// iface.go defines the Repository interface the CLI and server persist
// through.
//
// The concrete *Store type satisfies it. Loading bypasses the event fold:
// LoadState returns the saved entity tables as a projection.State, and the
// events recorded after its sequence are replayed on top.
package store

import (
	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/projection"
)

// Repository is the persistence collaborator of the aggregate.
type Repository interface {
	// Close closes the database connection.
	Close() error

	// --- Entities ---

	GetAllThreads() ([]model.Thread, error)
	GetAllAgents() ([]model.Agent, error)
	GetOpenEscalations() ([]model.Escalation, error)
	GetAllEscalations() ([]model.Escalation, error)
	GetAllMessages() ([]model.Message, error)
	GetAllArtifacts() ([]model.Artifact, error)

	SaveThread(t *model.Thread) error
	SaveAgent(a *model.Agent) error
	SaveEscalation(e *model.Escalation) error
	SaveMessage(m *model.Message) error
	SaveArtifact(a *model.Artifact) error

	// --- System state ---

	// GetSystemState returns the value under key and whether it was set.
	GetSystemState(key string) (string, bool, error)
	SetSystemState(key, value string) error

	// --- Snapshots ---

	// SaveState writes every entity and the sequence markers of st in
	// one transaction.
	SaveState(st projection.State) error
	// LoadState reads the entity tables back.
	LoadState() (projection.State, error)

	// --- Events ---

	// AppendEvents stores events. Their sequences must continue the
	// stored log without gaps.
	AppendEvents(events []event.Event) error
	// ListEventsAfter returns events with sequence > seq in order. A
	// limit <= 0 returns all of them.
	ListEventsAfter(seq int64, limit int) ([]event.Event, error)
	// MaxSequence returns the highest stored sequence, or 0.
	MaxSequence() (int64, error)
	// CountEvents returns the number of stored events.
	CountEvents() (int64, error)
}

// Compile-time check that *Store implements Repository.
var _ Repository = (*Store)(nil)
