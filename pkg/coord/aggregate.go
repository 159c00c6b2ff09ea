// Package coord owns the event log and the projection of one project
// and serialises every change to them.
//
// Readers share a read lock. A writer holds the write lock for the
// whole decide, stamp, fold and append sequence of one command, so two
// commands never interleave. Nothing here blocks on I/O: persistence is
// the caller's job, done with the events Execute returns.
package coord

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daviddao/threadmill/pkg/clock"
	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/projection"
	"github.com/daviddao/threadmill/pkg/temperature"
)

// Aggregate is the single writer of a project's state.
type Aggregate struct {
	mu       sync.RWMutex
	log      *event.Log
	proj     *projection.Projection
	baseline projection.State

	logger     *zap.Logger
	wall       clock.Wall
	coeff      temperature.Coefficients
	thresholds temperature.Thresholds
	newID      func(prefix string) string
	eventID    func() string

	// overdue counts consecutive maintenance passes an escalation was
	// found past its response time. Not part of the folded state.
	overdue    map[string]int
	lastReport Report
}

// Option configures an Aggregate.
type Option func(*Aggregate)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregate) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock sets the wall clock used to timestamp events.
func WithClock(c clock.Wall) Option {
	return func(a *Aggregate) {
		if c != nil {
			a.wall = c
		}
	}
}

// WithCoefficients sets the temperature coefficients commands use.
func WithCoefficients(c temperature.Coefficients) Option {
	return func(a *Aggregate) { a.coeff = c }
}

// WithThresholds sets the hot/warm band thresholds.
func WithThresholds(th temperature.Thresholds) Option {
	return func(a *Aggregate) { a.thresholds = th }
}

// WithIDs sets the generator for entity ids (threads, messages, ...).
func WithIDs(fn func(prefix string) string) Option {
	return func(a *Aggregate) {
		if fn != nil {
			a.newID = fn
		}
	}
}

// WithEventIDs sets the generator for event ids. The default is a
// random UUID.
func WithEventIDs(fn func() string) Option {
	return func(a *Aggregate) {
		if fn != nil {
			a.eventID = fn
		}
	}
}

// New returns an empty aggregate.
func New(opts ...Option) *Aggregate {
	a := &Aggregate{
		log:        event.NewLog(),
		proj:       projection.New(),
		logger:     zap.NewNop(),
		wall:       clock.Real(),
		coeff:      temperature.DefaultCoefficients(),
		thresholds: temperature.DefaultThresholds(),
		newID:      command.RandomID,
		eventID:    uuid.NewString,
		overdue:    make(map[string]int),
	}
	a.baseline = a.proj.Snapshot()
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Execute decides cmd against the current projection and applies the
// resulting events. A rejected command returns its domain error and
// changes nothing. A command with nothing to do returns no events and
// no error. The returned events carry their sequences.
func (a *Aggregate) Execute(cmd command.Command) ([]event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.execute(cmd, a.wall.Now())
}

func (a *Aggregate) execute(cmd command.Command, now time.Time) ([]event.Event, error) {
	env := command.Env{Now: now, Coefficients: a.coeff, NewID: a.newID}
	drafts, err := cmd.Decide(a.proj, env)
	if err != nil {
		a.logger.Info("command rejected", zap.String("command", cmd.Name()), zap.Error(err))
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, nil
	}
	events := a.stamp(drafts, cmd.Origin(), now)
	if err := a.commit(events); err != nil {
		a.logger.Error("command failed to apply", zap.String("command", cmd.Name()), zap.Error(err))
		return nil, err
	}
	return events, nil
}

// stamp turns drafts into events. All events of one command share a
// correlation id; each one is caused by the one before it.
func (a *Aggregate) stamp(drafts []event.Draft, meta command.Meta, now time.Time) []event.Event {
	events := make([]event.Event, len(drafts))
	next := a.log.Next()
	causation := meta.CausationID
	correlation := meta.CorrelationID
	for i, d := range drafts {
		id := a.eventID()
		if correlation == "" {
			correlation = id
		}
		e := event.Event{
			ID:            id,
			Sequence:      next + int64(i),
			Timestamp:     now,
			EntityID:      d.EntityID,
			EntityType:    d.EntityType,
			Payload:       d.Payload,
			ActorID:       meta.ActorID,
			CorrelationID: correlation,
			CausationID:   causation,
		}
		events[i] = e
		causation = e.ID
	}
	return events
}

// commit folds events and appends them to the log, all or nothing.
// A batch folds onto a clone that replaces the projection only when
// every event has applied.
func (a *Aggregate) commit(events []event.Event) error {
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		if a.log.Has(e.ID) || seen[e.ID] {
			return fmt.Errorf("%w: event %s", model.ErrAlreadyProcessed, e.ID)
		}
		seen[e.ID] = true
	}
	target := a.proj
	if len(events) > 1 {
		target = a.proj.Clone()
	}
	for _, e := range events {
		if err := target.Apply(e); err != nil {
			return err
		}
	}
	for _, e := range events {
		if _, err := a.log.Append(e); err != nil {
			return fmt.Errorf("append after fold: %w", err)
		}
		a.logger.Debug("event applied",
			zap.Int64("sequence", e.Sequence),
			zap.String("kind", string(e.Kind())),
			zap.String("entity", e.EntityID))
	}
	a.proj = target
	return nil
}

// ApplyEvent folds one externally built event and appends it. A
// missing id or timestamp is filled in; the sequence is always
// assigned here. The event is folded before it is appended so a
// rejected event never reaches the log.
func (a *Aggregate) ApplyEvent(e event.Event) (event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e.ID == "" {
		e.ID = a.eventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = a.wall.Now()
	}
	if e.EntityType == "" && e.Payload != nil {
		e.EntityType = e.Payload.EntityType()
	}
	e.Sequence = a.log.Next()
	if err := a.commit([]event.Event{e}); err != nil {
		return event.Event{}, err
	}
	return e, nil
}

// Rebuild replays the log onto the baseline the aggregate was loaded
// from (empty unless LoadSnapshot was used). On failure the current
// projection is kept.
func (a *Aggregate) Rebuild() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	p, err := projection.FromState(a.baseline)
	if err != nil {
		return err
	}
	events := a.log.All()
	for _, e := range events {
		if err := p.Apply(e); err != nil {
			return err
		}
	}
	a.proj = p
	a.logger.Info("projection rebuilt",
		zap.Int("events", len(events)),
		zap.Int64("sequence", p.Sequence()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Restore replays persisted history into an empty aggregate. The
// events must run gap-free from sequence 1.
func (a *Aggregate) Restore(events []event.Event) error {
	return a.LoadSnapshot(projection.State{}, events)
}

// LoadSnapshot seeds an empty aggregate from state, then replays the
// events recorded after state.Sequence. The first event must carry
// state.Sequence+1 and the rest must follow without gaps.
func (a *Aggregate) LoadSnapshot(state projection.State, events []event.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.log.Len() > 0 || a.proj.Sequence() != a.log.Base() {
		return errors.New("coord: load into a non-empty aggregate")
	}
	p, err := projection.FromState(state)
	if err != nil {
		return err
	}
	baseline := p.Snapshot()
	log := event.NewLog()
	if err := log.Resume(state.Sequence); err != nil {
		return err
	}
	for _, e := range events {
		if err := log.Import(e); err != nil {
			return err
		}
		if err := p.Apply(e); err != nil {
			return err
		}
	}
	a.log, a.proj, a.baseline = log, p, baseline
	a.logger.Info("state loaded",
		zap.Int64("snapshot_sequence", state.Sequence),
		zap.Int("replayed", len(events)),
		zap.Int64("sequence", p.Sequence()))
	return nil
}
