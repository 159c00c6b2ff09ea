// Package store persists threadmill state in SQLite.
//
// Two things are kept: the entity tables (threads, agents, escalations,
// messages, artifacts) as of the last saved snapshot, and the full event
// log with CBOR-encoded payloads. The aggregate never touches the store;
// the CLI and server save after each command.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/projection"

	_ "modernc.org/sqlite"
)

// SchemaVersion is written on first open and checked on every open.
const SchemaVersion = 1

// System state keys.
const (
	KeySchemaVersion = "schema_version"
	KeySequence      = "sequence"
	KeyLastSnapshot  = "last_snapshot"
	KeyPaused        = "paused"
	KeyPauseReason   = "pause_reason"
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	retry  retryConfig
}

// Option configures a Store.
type Option func(*Store)

// WithLogger logs retried contention to l.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrap("open", IO, err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrap("open", Database, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, logger: zap.NewNop(), retry: defaultRetryConfig}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention runs fn through retryOp, logging each retry.
func (s *Store) retryOnContention(op string, fn func() error) error {
	return retryOp(s.retry, fn, func(attempt int, err error) {
		s.logger.Warn("sqlite contention, retrying",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
	})
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS system_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		id                TEXT PRIMARY KEY,
		state             TEXT NOT NULL,
		temp_value        REAL NOT NULL,
		temp_breakthrough REAL NOT NULL DEFAULT 0,
		temp_boost        REAL NOT NULL DEFAULT 0,
		temp_updated      TEXT NOT NULL,
		metadata          TEXT NOT NULL,
		claimed_by        TEXT NOT NULL DEFAULT '',
		claimed_at        TEXT NOT NULL DEFAULT '',
		artifact_ids      TEXT NOT NULL DEFAULT '[]',
		merged_into       TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL,
		version           INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_state ON threads(state);

	CREATE TABLE IF NOT EXISTS agents (
		id                TEXT PRIMARY KEY,
		type              TEXT NOT NULL,
		status            TEXT NOT NULL,
		current_thread    TEXT NOT NULL DEFAULT '',
		token_digest      TEXT NOT NULL DEFAULT '',
		registered_at     TEXT NOT NULL,
		last_active_at    TEXT NOT NULL,
		threads_completed INTEGER NOT NULL DEFAULT 0,
		metadata          TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS escalations (
		id              TEXT PRIMARY KEY,
		category        TEXT NOT NULL,
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		reporter_id     TEXT NOT NULL DEFAULT '',
		priority        INTEGER NOT NULL,
		status          TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		acknowledged_at TEXT NOT NULL DEFAULT '',
		resolved_by     TEXT NOT NULL DEFAULT '',
		resolution      TEXT NOT NULL DEFAULT '',
		resolved_at     TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		from_agent TEXT NOT NULL,
		to_agent   TEXT NOT NULL,
		body       TEXT NOT NULL,
		sent_at    TEXT NOT NULL,
		read_at    TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_agent);

	CREATE TABLE IF NOT EXISTS artifacts (
		id          TEXT PRIMARY KEY,
		thread_id   TEXT NOT NULL DEFAULT '',
		kind        TEXT NOT NULL,
		path        TEXT NOT NULL,
		summary     TEXT NOT NULL DEFAULT '',
		created_by  TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		modified_at TEXT NOT NULL,
		revision    INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS events (
		sequence       INTEGER PRIMARY KEY,
		id             TEXT NOT NULL UNIQUE,
		timestamp      TEXT NOT NULL,
		entity_id      TEXT NOT NULL,
		entity_type    TEXT NOT NULL,
		kind           TEXT NOT NULL,
		payload        BLOB NOT NULL,
		actor_id       TEXT NOT NULL DEFAULT '',
		correlation_id TEXT NOT NULL DEFAULT '',
		causation_id   TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return wrap("migrate", Migration, err)
	}

	v, ok, err := s.GetSystemState(KeySchemaVersion)
	if err != nil {
		return err
	}
	if !ok {
		return s.SetSystemState(KeySchemaVersion, strconv.Itoa(SchemaVersion))
	}
	if v != strconv.Itoa(SchemaVersion) {
		return wrap("migrate", SchemaMismatch, fmt.Errorf("database has schema %s, want %d", v, SchemaVersion))
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// ---------------------------------------------------------------------------
// System state
// ---------------------------------------------------------------------------

// GetSystemState returns the value under key and whether it was set.
func (s *Store) GetSystemState(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM system_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get system state", Database, err)
	}
	return v, true, nil
}

// SetSystemState stores value under key.
func (s *Store) SetSystemState(key, value string) error {
	return wrap("set system state", Database, s.retryOnContention("set system state", func() error {
		return setSystemState(s.db, key, value)
	}))
}

func setSystemState(x execer, key, value string) error {
	_, err := x.Exec(
		`INSERT INTO system_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// SaveState writes every entity in st and its sequence markers in one
// transaction. Entities are upserted, so rows keep their first
// insertion order.
func (s *Store) SaveState(st projection.State) error {
	err := s.retryOnContention("save state", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		for i := range st.Threads {
			if err := saveThread(tx, &st.Threads[i]); err != nil {
				return err
			}
		}
		for i := range st.Agents {
			if err := saveAgent(tx, &st.Agents[i]); err != nil {
				return err
			}
		}
		for i := range st.Escalations {
			if err := saveEscalation(tx, &st.Escalations[i]); err != nil {
				return err
			}
		}
		for i := range st.Messages {
			if err := saveMessage(tx, &st.Messages[i]); err != nil {
				return err
			}
		}
		for i := range st.Artifacts {
			if err := saveArtifact(tx, &st.Artifacts[i]); err != nil {
				return err
			}
		}
		for k, v := range map[string]string{
			KeySequence:     strconv.FormatInt(st.Sequence, 10),
			KeyLastSnapshot: strconv.FormatInt(st.LastSnapshot, 10),
			KeyPaused:       strconv.FormatBool(st.Paused),
			KeyPauseReason:  st.PauseReason,
		} {
			if err := setSystemState(tx, k, v); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	var serr *Error
	if errors.As(err, &serr) {
		return err
	}
	return wrap("save state", Database, err)
}

// LoadState reads the saved snapshot. An empty database yields an
// empty state at sequence 0.
func (s *Store) LoadState() (projection.State, error) {
	var st projection.State
	var err error
	if st.Threads, err = s.GetAllThreads(); err != nil {
		return st, err
	}
	if st.Agents, err = s.GetAllAgents(); err != nil {
		return st, err
	}
	if st.Escalations, err = s.GetAllEscalations(); err != nil {
		return st, err
	}
	if st.Messages, err = s.GetAllMessages(); err != nil {
		return st, err
	}
	if st.Artifacts, err = s.GetAllArtifacts(); err != nil {
		return st, err
	}
	if st.Sequence, err = s.intState(KeySequence); err != nil {
		return st, err
	}
	if st.LastSnapshot, err = s.intState(KeyLastSnapshot); err != nil {
		return st, err
	}
	if v, ok, err := s.GetSystemState(KeyPaused); err != nil {
		return st, err
	} else if ok {
		st.Paused = v == "true"
	}
	if st.PauseReason, _, err = s.GetSystemState(KeyPauseReason); err != nil {
		return st, err
	}
	return st, nil
}

func (s *Store) intState(key string) (int64, error) {
	v, ok, err := s.GetSystemState(key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, wrap("load "+key, Serialization, err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

// SaveThread upserts t.
func (s *Store) SaveThread(t *model.Thread) error {
	return s.save("save thread", func() error { return saveThread(s.db, t) })
}

func saveThread(x execer, t *model.Thread) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return wrap("save thread "+t.ID, Serialization, err)
	}
	artifacts, err := json.Marshal(nonNil(t.ArtifactIDs))
	if err != nil {
		return wrap("save thread "+t.ID, Serialization, err)
	}
	_, err = x.Exec(
		`INSERT INTO threads (id, state, temp_value, temp_breakthrough, temp_boost, temp_updated,
		                      metadata, claimed_by, claimed_at, artifact_ids, merged_into,
		                      created_at, updated_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state,
		   temp_value = excluded.temp_value,
		   temp_breakthrough = excluded.temp_breakthrough,
		   temp_boost = excluded.temp_boost,
		   temp_updated = excluded.temp_updated,
		   metadata = excluded.metadata,
		   claimed_by = excluded.claimed_by,
		   claimed_at = excluded.claimed_at,
		   artifact_ids = excluded.artifact_ids,
		   merged_into = excluded.merged_into,
		   updated_at = excluded.updated_at,
		   version = excluded.version`,
		t.ID, string(t.State), t.Temperature.Value, t.Temperature.Breakthrough, t.Temperature.HumanBoost,
		formatTime(t.Temperature.LastUpdated), string(meta), t.ClaimedBy, formatTime(t.ClaimedAt),
		string(artifacts), t.MergedInto, formatTime(t.CreatedAt), formatTime(t.UpdatedAt), t.Version,
	)
	return err
}

// GetAllThreads returns every thread in creation order.
func (s *Store) GetAllThreads() ([]model.Thread, error) {
	rows, err := s.db.Query(
		`SELECT id, state, temp_value, temp_breakthrough, temp_boost, temp_updated,
		        metadata, claimed_by, claimed_at, artifact_ids, merged_into,
		        created_at, updated_at, version
		 FROM threads ORDER BY rowid`,
	)
	if err != nil {
		return nil, wrap("list threads", Database, err)
	}
	defer rows.Close()

	threads := []model.Thread{}
	for rows.Next() {
		var t model.Thread
		var state, tempUpdated, meta, claimedAt, artifacts, created, updated string
		if err := rows.Scan(&t.ID, &state, &t.Temperature.Value, &t.Temperature.Breakthrough,
			&t.Temperature.HumanBoost, &tempUpdated, &meta, &t.ClaimedBy, &claimedAt, &artifacts,
			&t.MergedInto, &created, &updated, &t.Version); err != nil {
			return nil, wrap("list threads", Database, err)
		}
		t.State = model.ThreadState(state)
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			return nil, wrap("decode thread "+t.ID, Serialization, err)
		}
		if err := json.Unmarshal([]byte(artifacts), &t.ArtifactIDs); err != nil {
			return nil, wrap("decode thread "+t.ID, Serialization, err)
		}
		if len(t.ArtifactIDs) == 0 {
			t.ArtifactIDs = nil
		}
		if err := parseTimes("thread "+t.ID,
			field{tempUpdated, &t.Temperature.LastUpdated},
			field{claimedAt, &t.ClaimedAt},
			field{created, &t.CreatedAt},
			field{updated, &t.UpdatedAt},
		); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, wrap("list threads", Database, rows.Err())
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// SaveAgent upserts a, including its token digest.
func (s *Store) SaveAgent(a *model.Agent) error {
	return s.save("save agent", func() error { return saveAgent(s.db, a) })
}

func saveAgent(x execer, a *model.Agent) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return wrap("save agent "+a.ID, Serialization, err)
	}
	_, err = x.Exec(
		`INSERT INTO agents (id, type, status, current_thread, token_digest,
		                     registered_at, last_active_at, threads_completed, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   current_thread = excluded.current_thread,
		   token_digest = excluded.token_digest,
		   last_active_at = excluded.last_active_at,
		   threads_completed = excluded.threads_completed,
		   metadata = excluded.metadata`,
		a.ID, string(a.Type), string(a.Status), a.CurrentThread, a.TokenDigest,
		formatTime(a.RegisteredAt), formatTime(a.LastActiveAt), a.ThreadsCompleted, string(meta),
	)
	return err
}

// GetAllAgents returns every agent in registration order.
func (s *Store) GetAllAgents() ([]model.Agent, error) {
	rows, err := s.db.Query(
		`SELECT id, type, status, current_thread, token_digest,
		        registered_at, last_active_at, threads_completed, metadata
		 FROM agents ORDER BY rowid`,
	)
	if err != nil {
		return nil, wrap("list agents", Database, err)
	}
	defer rows.Close()

	agents := []model.Agent{}
	for rows.Next() {
		var a model.Agent
		var typ, status, registered, lastActive, meta string
		if err := rows.Scan(&a.ID, &typ, &status, &a.CurrentThread, &a.TokenDigest,
			&registered, &lastActive, &a.ThreadsCompleted, &meta); err != nil {
			return nil, wrap("list agents", Database, err)
		}
		a.Type = model.AgentType(typ)
		a.Status = model.AgentStatus(status)
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return nil, wrap("decode agent "+a.ID, Serialization, err)
		}
		if err := parseTimes("agent "+a.ID,
			field{registered, &a.RegisteredAt},
			field{lastActive, &a.LastActiveAt},
		); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, wrap("list agents", Database, rows.Err())
}

// ---------------------------------------------------------------------------
// Escalations
// ---------------------------------------------------------------------------

// SaveEscalation upserts e.
func (s *Store) SaveEscalation(e *model.Escalation) error {
	return s.save("save escalation", func() error { return saveEscalation(s.db, e) })
}

func saveEscalation(x execer, e *model.Escalation) error {
	_, err := x.Exec(
		`INSERT INTO escalations (id, category, title, description, reporter_id, priority, status,
		                          created_at, acknowledged_by, acknowledged_at,
		                          resolved_by, resolution, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   acknowledged_by = excluded.acknowledged_by,
		   acknowledged_at = excluded.acknowledged_at,
		   resolved_by = excluded.resolved_by,
		   resolution = excluded.resolution,
		   resolved_at = excluded.resolved_at`,
		e.ID, e.Category, e.Title, e.Description, e.ReporterID, int(e.Priority), string(e.Status),
		formatTime(e.CreatedAt), e.AcknowledgedBy, formatTime(e.AcknowledgedAt),
		e.ResolvedBy, e.Resolution, formatTime(e.ResolvedAt),
	)
	return err
}

// GetOpenEscalations returns unresolved escalations, most urgent first.
func (s *Store) GetOpenEscalations() ([]model.Escalation, error) {
	return s.listEscalations(`WHERE status != ? ORDER BY priority DESC, created_at ASC, id ASC`,
		string(model.EscalationResolved))
}

// GetAllEscalations returns every escalation in creation order.
func (s *Store) GetAllEscalations() ([]model.Escalation, error) {
	return s.listEscalations(`ORDER BY rowid`)
}

func (s *Store) listEscalations(tail string, args ...any) ([]model.Escalation, error) {
	rows, err := s.db.Query(
		`SELECT id, category, title, description, reporter_id, priority, status,
		        created_at, acknowledged_by, acknowledged_at, resolved_by, resolution, resolved_at
		 FROM escalations `+tail, args...,
	)
	if err != nil {
		return nil, wrap("list escalations", Database, err)
	}
	defer rows.Close()

	out := []model.Escalation{}
	for rows.Next() {
		var e model.Escalation
		var prio int
		var status, created, acked, resolved string
		if err := rows.Scan(&e.ID, &e.Category, &e.Title, &e.Description, &e.ReporterID, &prio, &status,
			&created, &e.AcknowledgedBy, &acked, &e.ResolvedBy, &e.Resolution, &resolved); err != nil {
			return nil, wrap("list escalations", Database, err)
		}
		e.Priority = model.Priority(prio)
		e.Status = model.EscalationStatus(status)
		if err := parseTimes("escalation "+e.ID,
			field{created, &e.CreatedAt},
			field{acked, &e.AcknowledgedAt},
			field{resolved, &e.ResolvedAt},
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, wrap("list escalations", Database, rows.Err())
}

// ---------------------------------------------------------------------------
// Messages and artifacts
// ---------------------------------------------------------------------------

// SaveMessage upserts m.
func (s *Store) SaveMessage(m *model.Message) error {
	return s.save("save message", func() error { return saveMessage(s.db, m) })
}

func saveMessage(x execer, m *model.Message) error {
	_, err := x.Exec(
		`INSERT INTO messages (id, from_agent, to_agent, body, sent_at, read_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET read_at = excluded.read_at`,
		m.ID, m.From, m.To, m.Body, formatTime(m.SentAt), formatTime(m.ReadAt),
	)
	return err
}

// GetAllMessages returns every message in send order.
func (s *Store) GetAllMessages() ([]model.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, from_agent, to_agent, body, sent_at, read_at FROM messages ORDER BY rowid`,
	)
	if err != nil {
		return nil, wrap("list messages", Database, err)
	}
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		var m model.Message
		var sent, read string
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Body, &sent, &read); err != nil {
			return nil, wrap("list messages", Database, err)
		}
		if err := parseTimes("message "+m.ID, field{sent, &m.SentAt}, field{read, &m.ReadAt}); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, wrap("list messages", Database, rows.Err())
}

// SaveArtifact upserts a.
func (s *Store) SaveArtifact(a *model.Artifact) error {
	return s.save("save artifact", func() error { return saveArtifact(s.db, a) })
}

func saveArtifact(x execer, a *model.Artifact) error {
	_, err := x.Exec(
		`INSERT INTO artifacts (id, thread_id, kind, path, summary, created_by, created_at, modified_at, revision)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   path = excluded.path,
		   summary = excluded.summary,
		   modified_at = excluded.modified_at,
		   revision = excluded.revision`,
		a.ID, a.ThreadID, a.Kind, a.Path, a.Summary, a.CreatedBy,
		formatTime(a.CreatedAt), formatTime(a.ModifiedAt), a.Revision,
	)
	return err
}

// GetAllArtifacts returns every artifact ordered by id.
func (s *Store) GetAllArtifacts() ([]model.Artifact, error) {
	rows, err := s.db.Query(
		`SELECT id, thread_id, kind, path, summary, created_by, created_at, modified_at, revision
		 FROM artifacts ORDER BY id`,
	)
	if err != nil {
		return nil, wrap("list artifacts", Database, err)
	}
	defer rows.Close()

	out := []model.Artifact{}
	for rows.Next() {
		var a model.Artifact
		var created, modified string
		if err := rows.Scan(&a.ID, &a.ThreadID, &a.Kind, &a.Path, &a.Summary, &a.CreatedBy,
			&created, &modified, &a.Revision); err != nil {
			return nil, wrap("list artifacts", Database, err)
		}
		if err := parseTimes("artifact "+a.ID, field{created, &a.CreatedAt}, field{modified, &a.ModifiedAt}); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, wrap("list artifacts", Database, rows.Err())
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// save runs a single-row write with retries. Serialization errors from
// fn pass through; anything else is a database error.
func (s *Store) save(op string, fn func() error) error {
	err := s.retryOnContention(op, fn)
	var serr *Error
	if errors.As(err, &serr) {
		return err
	}
	return wrap(op, Database, err)
}

// formatTime renders t in UTC; the zero time is stored as "".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

type field struct {
	raw string
	dst *time.Time
}

func parseTimes(what string, fields ...field) error {
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = time.Time{}
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, f.raw)
		if err != nil {
			return wrap("parse "+what, Serialization, err)
		}
		*f.dst = t
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
