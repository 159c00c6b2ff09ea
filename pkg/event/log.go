package event

import (
	"fmt"

	"github.com/daviddao/threadmill/pkg/clock"
	"github.com/daviddao/threadmill/pkg/model"
)

// Log is the in-memory append-only event log.
//
// Sequences start at 1 and increase by exactly one per append. A log
// resumed from a snapshot starts after the snapshot's sequence and only
// holds the events appended since.
//
// Log is not goroutine-safe; the aggregate guards it with its own lock.
type Log struct {
	seq    clock.Sequence
	base   int64
	events []Event
	ids    map[string]int64
}

// NewLog returns an empty log whose first event gets sequence 1.
func NewLog() *Log {
	return &Log{ids: make(map[string]int64)}
}

// Resume rebases an empty log so that the next append gets after+1.
func (l *Log) Resume(after int64) error {
	if len(l.events) > 0 {
		return fmt.Errorf("%w: resume a non-empty log", model.ErrInvalidSequence)
	}
	if after < 0 {
		return fmt.Errorf("%w: resume after %d", model.ErrInvalidSequence, after)
	}
	l.base = after
	l.seq.Set(after)
	return nil
}

// Next returns the sequence the next append will assign.
func (l *Log) Next() int64 { return l.seq.Peek() }

// Current returns the sequence of the last appended event, or the
// resume point when nothing has been appended since.
func (l *Log) Current() int64 { return l.seq.Value() }

// Base returns the sequence the log was resumed after (0 for a fresh log).
func (l *Log) Base() int64 { return l.base }

// Len returns the number of events held.
func (l *Log) Len() int { return len(l.events) }

// Append assigns the next sequence to e and stores it. Only malformed
// events and duplicate ids are rejected.
func (l *Log) Append(e Event) (Event, error) {
	if err := e.Validate(); err != nil {
		return Event{}, fmt.Errorf("%w: %v", model.ErrInvalidCommand, err)
	}
	if seq, dup := l.ids[e.ID]; dup {
		return Event{}, fmt.Errorf("%w: event %s already at sequence %d", model.ErrAlreadyProcessed, e.ID, seq)
	}
	e.Sequence = l.seq.Tick()
	l.events = append(l.events, e)
	l.ids[e.ID] = e.Sequence
	return e, nil
}

// Import appends an event that already carries a sequence, as when
// replaying a persisted log. The sequence must be exactly Next().
func (l *Log) Import(e Event) error {
	if e.Sequence != l.Next() {
		return fmt.Errorf("%w: got %d, want %d", model.ErrInvalidSequence, e.Sequence, l.Next())
	}
	_, err := l.Append(e)
	return err
}

// Get returns the event with sequence seq.
func (l *Log) Get(seq int64) (Event, error) {
	i := seq - l.base - 1
	if i < 0 || i >= int64(len(l.events)) {
		return Event{}, fmt.Errorf("%w: sequence %d", model.ErrEventNotFound, seq)
	}
	return l.events[i], nil
}

// All returns a copy of every held event in sequence order.
func (l *Log) All() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// After returns a copy of the held events with sequence > seq.
func (l *Log) After(seq int64) []Event {
	i := seq - l.base
	if i < 0 {
		i = 0
	}
	if i >= int64(len(l.events)) {
		return []Event{}
	}
	out := make([]Event, int64(len(l.events))-i)
	copy(out, l.events[i:])
	return out
}

// Has reports whether an event with id has been appended.
func (l *Log) Has(id string) bool {
	_, ok := l.ids[id]
	return ok
}
