// Package clock provides the two notions of time the coordinator uses.
//
// Sequence is the logical clock of the event log. It follows Lamport's
// first implementation rule: tick before every event. The value assigned
// to an event is never handed out again, so sequences are gap-free and
// strictly increasing in append order.
//
// Wall is the physical clock. Production code injects Real(); tests
// inject a Fake and advance it by hand. Folding historical events never
// reads a Wall: it uses each event's own timestamp.
//
// Note: Sequence is not goroutine-safe. The aggregate owns exactly one
// and only touches it inside its writer section.
package clock

import (
	"sync"
	"time"
)

// Sequence is a gap-free event counter. Not goroutine-safe; see package doc.
type Sequence struct {
	n int64
}

// Tick advances the counter and returns the new value.
func (s *Sequence) Tick() int64 {
	s.n++
	return s.n
}

// Peek returns the value the next Tick will return.
func (s *Sequence) Peek() int64 { return s.n + 1 }

// Value returns the last assigned value (0 if none).
func (s *Sequence) Value() int64 { return s.n }

// Set seeds the counter, e.g. when resuming after a persisted snapshot.
// The next Tick returns v+1.
func (s *Sequence) Set(v int64) { s.n = v }

// Wall reads physical time.
type Wall interface {
	Now() time.Time
}

type realWall struct{}

func (realWall) Now() time.Time { return time.Now().UTC() }

// Real returns the system clock in UTC.
func Real() Wall { return realWall{} }

// Fake is a manually driven Wall for tests. Safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake reading start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set jumps the fake time to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
