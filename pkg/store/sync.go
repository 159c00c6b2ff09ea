package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/projection"
)

// Source is the read side of the aggregate a Syncer copies from.
type Source interface {
	EventsSince(seq int64) []event.Event
	Snapshot() projection.State
}

// Syncer writes what the aggregate has applied since the last sync: the
// new events, then a snapshot of the entity tables. Callers on
// different goroutines share one Syncer so events reach the log in
// sequence order.
type Syncer struct {
	repo   Repository
	src    Source
	logger *zap.Logger

	mu        sync.Mutex
	appended  int64 // last event in the log
	persisted int64 // last sequence covered by a snapshot
}

// NewSyncer returns a Syncer that treats events up to persisted as
// already stored.
func NewSyncer(repo Repository, src Source, persisted int64, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{repo: repo, src: src, appended: persisted, persisted: persisted, logger: logger}
}

// Sync stores pending events and the current snapshot. It is a no-op
// when nothing has changed.
func (s *Syncer) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.src.Snapshot()
	if st.Sequence <= s.persisted {
		return nil
	}
	var pending []event.Event
	for _, e := range s.src.EventsSince(s.appended) {
		if e.Sequence > st.Sequence {
			break
		}
		pending = append(pending, e)
	}
	if err := s.repo.AppendEvents(pending); err != nil {
		return err
	}
	s.appended = max(s.appended, st.Sequence)
	// A failed snapshot leaves persisted behind so the next Sync retries it.
	if err := s.repo.SaveState(st); err != nil {
		return err
	}
	s.persisted = st.Sequence
	s.logger.Debug("state persisted",
		zap.Int("events", len(pending)),
		zap.Int64("sequence", st.Sequence))
	return nil
}

// Persisted returns the last sequence covered by both the log and a
// snapshot.
func (s *Syncer) Persisted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persisted
}
