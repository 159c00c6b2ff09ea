// Package command turns caller intents into events.
//
// A Command is decided against a read-only projection and returns the
// drafts needed to reach the new state, or a domain error and no
// drafts. Deciding never mutates anything, so commands are tested
// without a log. The aggregate stamps and folds the drafts.
package command

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/projection"
	"github.com/daviddao/threadmill/pkg/temperature"
)

// Command is a validated intent.
type Command interface {
	// Name identifies the command in logs.
	Name() string
	// Decide validates against p and returns the events to append.
	Decide(p *projection.Projection, env Env) ([]event.Draft, error)
	// Origin carries who issued the command and why.
	Origin() Meta
}

// Meta links the events of one command to their actor and cause.
type Meta struct {
	ActorID       string `json:"actor_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
}

// Origin returns m. Embedding Meta gives a command its Origin method.
func (m Meta) Origin() Meta { return m }

// Env is the context a command is decided in.
type Env struct {
	Now          time.Time
	Coefficients temperature.Coefficients
	// NewID returns a fresh entity id with the given prefix.
	NewID func(prefix string) string
}

// DefaultEnv returns an Env reading now with default coefficients and
// random ids.
func DefaultEnv(now time.Time) Env {
	return Env{Now: now, Coefficients: temperature.DefaultCoefficients(), NewID: RandomID}
}

// RandomID returns prefix-xxxxxxxx with eight random hex digits.
func RandomID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (env Env) id(prefix string) string {
	if env.NewID == nil {
		return RandomID(prefix)
	}
	return env.NewID(prefix)
}

// DecayEpsilon is the smallest temperature move worth recording.
const DecayEpsilon = 0.001

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{model.ErrInvalidCommand}, args...)...)
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return invalid("%s is required", field)
	}
	return nil
}

func unitInterval(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return invalid("%s must be in [0,1], got %v", field, v)
	}
	return nil
}

func drafts(ds ...event.Draft) []event.Draft { return ds }
