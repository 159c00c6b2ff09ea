package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/config"
	"github.com/daviddao/threadmill/pkg/coord"
	"github.com/daviddao/threadmill/pkg/event"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/store"
)

// humanActor is the actor recorded when no agent is given.
const humanActor = "human"

// app holds shared state for all CLI subcommands.
type app struct {
	cfg     *config.Config
	cfgPath string
	store   *store.Store
	agg     *coord.Aggregate
	syncer  *store.Syncer
	logger  *zap.Logger
	agentID string // default agent from THREADMILL_AGENT

	out    io.Writer
	errOut io.Writer
}

// newApp loads the configuration and opens the project state. Only the
// long-running server logs at the configured level; one-shot commands
// stay at warn unless debug is asked for.
func newApp(long bool) (*app, error) {
	cfgPath := envOr("THREADMILL_CONFIG", config.DefaultPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Logging.Level, long)
	if err != nil {
		return nil, err
	}
	a, err := openApp(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.cfgPath = cfgPath
	a.agentID = envOr("THREADMILL_AGENT", "")
	return a, nil
}

func newLogger(level string, long bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	if !long && lvl > zapcore.DebugLevel && lvl < zapcore.WarnLevel {
		lvl = zapcore.WarnLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// openApp opens the database and loads the saved snapshot plus the
// events recorded after it.
func openApp(cfg *config.Config, logger *zap.Logger, opts ...coord.Option) (*app, error) {
	s, err := store.New(cfg.Store.Path, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", cfg.Store.Path, err)
	}
	st, err := s.LoadState()
	if err != nil {
		s.Close()
		return nil, err
	}
	tail, err := s.ListEventsAfter(st.Sequence, 0)
	if err != nil {
		s.Close()
		return nil, err
	}
	opts = append(append(cfg.Options(), coord.WithLogger(logger)), opts...)
	agg := coord.New(opts...)
	if err := agg.LoadSnapshot(st, tail); err != nil {
		s.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	return &app{
		cfg:    cfg,
		store:  s,
		agg:    agg,
		syncer: store.NewSyncer(s, agg, agg.CurrentSequence(), logger),
		logger: logger,
		out:    os.Stdout,
		errOut: os.Stderr,
	}, nil
}

// Close releases the database connection and flushes the logger.
func (a *app) Close() {
	a.store.Close()
	_ = a.logger.Sync()
}

// resolveAgent returns the agent ID from the flag (if non-empty), falling
// back to the THREADMILL_AGENT environment variable.
func (a *app) resolveAgent(flagVal string) (string, error) {
	if flagVal != "" {
		return flagVal, nil
	}
	if a.agentID != "" {
		return a.agentID, nil
	}
	return "", fmt.Errorf("no agent ID: pass --agent or set THREADMILL_AGENT")
}

// actor is like resolveAgent but falls back to the human operator.
func (a *app) actor(flagVal string) string {
	if id, err := a.resolveAgent(flagVal); err == nil {
		return id
	}
	return humanActor
}

// meta starts a new correlation for one CLI invocation.
func (a *app) meta(actor string) command.Meta {
	return command.Meta{ActorID: actor, CorrelationID: uuid.NewString()}
}

// run executes cmd and persists whatever it produced.
func (a *app) run(cmd command.Command) ([]event.Event, error) {
	events, err := a.agg.Execute(cmd)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		if err := a.syncer.Sync(); err != nil {
			return events, fmt.Errorf("persist: %w", err)
		}
	}
	return events, nil
}

// fail reports err for the named command and returns its exit code.
func (a *app) fail(name string, err error) int {
	fmt.Fprintf(a.errOut, "tm: %s: %v\n", name, err)
	return exitCode(err)
}

// exitCode is 2 for conflicts a caller may retry or route around.
func exitCode(err error) int {
	for _, target := range []error{
		model.ErrAlreadyClaimed,
		model.ErrNotClaimable,
		model.ErrAgentBusy,
		model.ErrSystemPaused,
	} {
		if errors.Is(err, target) {
			return 2
		}
	}
	return 1
}

// newFlags returns a flag set reporting to the app's error stream.
func (a *app) newFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

// parse parses args and reports whether the command should go on. When
// it should not, code is the exit code: 0 after --help, 1 on bad flags.
func parse(fs *pflag.FlagSet, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, false
		}
		return 1, false
	}
	return 0, true
}

// needArgs checks the positional argument count.
func (a *app) needArgs(fs *pflag.FlagSet, n int, usage string) bool {
	if fs.NArg() < n {
		fmt.Fprintf(a.errOut, "usage: tm %s %s\n", fs.Name(), usage)
		return false
	}
	return true
}

// joinArgs joins the positional arguments from i on.
func joinArgs(fs *pflag.FlagSet, i int) string {
	return strings.Join(fs.Args()[i:], " ")
}

// printJSON writes v to the app's output as indented JSON.
func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
