package store

import (
	"database/sql"
	"fmt"

	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
)

// AppendEvents stores events in one transaction. The first sequence
// must follow the stored maximum and the rest must be consecutive.
func (s *Store) AppendEvents(events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	type row struct {
		e       event.Event
		payload []byte
	}
	rows := make([]row, len(events))
	for i, e := range events {
		b, err := event.EncodeCBOR(e.Payload)
		if err != nil {
			return wrap("append events", Serialization, err)
		}
		rows[i] = row{e, b}
	}

	err := s.retryOnContention("append events", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		var last int64
		if err := tx.QueryRow(`SELECT COALESCE(MAX(sequence), 0) FROM events`).Scan(&last); err != nil {
			return err
		}
		for i, r := range rows {
			if want := last + int64(i) + 1; r.e.Sequence != want {
				return fmt.Errorf("%w: got %d, want %d", model.ErrInvalidSequence, r.e.Sequence, want)
			}
			if _, err := tx.Exec(
				`INSERT INTO events (sequence, id, timestamp, entity_id, entity_type, kind, payload,
				                     actor_id, correlation_id, causation_id)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.e.Sequence, r.e.ID, formatTime(r.e.Timestamp), r.e.EntityID, string(r.e.EntityType),
				string(r.e.Kind()), r.payload, r.e.ActorID, r.e.CorrelationID, r.e.CausationID,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	return wrap("append events", Database, err)
}

// ListEventsAfter returns events with sequence > seq in order. A limit
// <= 0 returns every one.
func (s *Store) ListEventsAfter(seq int64, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT sequence, id, timestamp, entity_id, entity_type, kind, payload,
		        actor_id, correlation_id, causation_id
		 FROM events WHERE sequence > ?
		 ORDER BY sequence ASC LIMIT ?`,
		seq, limit,
	)
	if err != nil {
		return nil, wrap("list events", Database, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListEventsForEntity returns the events about one entity in order.
func (s *Store) ListEventsForEntity(entityID string) ([]event.Event, error) {
	rows, err := s.db.Query(
		`SELECT sequence, id, timestamp, entity_id, entity_type, kind, payload,
		        actor_id, correlation_id, causation_id
		 FROM events WHERE entity_id = ?
		 ORDER BY sequence ASC`,
		entityID,
	)
	if err != nil {
		return nil, wrap("list entity events", Database, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	events := []event.Event{}
	for rows.Next() {
		var e event.Event
		var ts, entityType, kind string
		var payload []byte
		if err := rows.Scan(&e.Sequence, &e.ID, &ts, &e.EntityID, &entityType, &kind, &payload,
			&e.ActorID, &e.CorrelationID, &e.CausationID); err != nil {
			return nil, wrap("list events", Database, err)
		}
		e.EntityType = event.EntityType(entityType)
		p, err := event.DecodeCBOR(event.Kind(kind), payload)
		if err != nil {
			return nil, wrap(fmt.Sprintf("decode event %d", e.Sequence), Serialization, err)
		}
		e.Payload = p
		if err := parseTimes(fmt.Sprintf("event %d", e.Sequence), field{ts, &e.Timestamp}); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, wrap("list events", Database, rows.Err())
}

// MaxSequence returns the highest stored sequence, or 0 if the log is
// empty.
func (s *Store) MaxSequence() (int64, error) {
	var seq int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(sequence), 0) FROM events`).Scan(&seq); err != nil {
		return 0, wrap("max sequence", Database, err)
	}
	return seq, nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, wrap("count events", Database, err)
	}
	return n, nil
}
