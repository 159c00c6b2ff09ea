package main

import (
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/coord"
)

func (a *app) cmdPause(args []string) int {
	flags := a.newFlags("pause")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	reason := joinArgs(flags, 0)
	events, err := a.run(command.PauseSystem{Meta: a.meta(humanActor), Reason: reason})
	if err != nil {
		return a.fail("pause", err)
	}
	if len(events) == 0 {
		fmt.Fprintln(a.out, "already paused")
		return 0
	}
	fmt.Fprintln(a.out, "paused: no new claims until 'tm resume'")
	return 0
}

func (a *app) cmdResume(args []string) int {
	flags := a.newFlags("resume")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	events, err := a.run(command.ResumeSystem{Meta: a.meta(humanActor)})
	if err != nil {
		return a.fail("resume", err)
	}
	if len(events) == 0 {
		fmt.Fprintln(a.out, "not paused")
		return 0
	}
	fmt.Fprintln(a.out, "resumed")
	return 0
}

func (a *app) cmdSnapshot(args []string) int {
	flags := a.newFlags("snapshot")
	reason := flags.StringP("reason", "r", "manual", "why the snapshot is taken")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if _, err := a.run(command.RecordSnapshot{Meta: a.meta(humanActor), Reason: *reason}); err != nil {
		return a.fail("snapshot", err)
	}
	fmt.Fprintf(a.out, "snapshot at sequence %d\n", a.syncer.Persisted())
	return 0
}

// cmdMaintain runs a single maintenance pass. Overdue cycle counts live
// in memory, so repeated one-shot passes never reach the
// auto-escalation threshold; 'tm serve' keeps them.
func (a *app) cmdMaintain(args []string) int {
	flags := a.newFlags("maintain")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	r, err := a.agg.Maintain(a.cfg.Policy())
	if serr := a.syncer.Sync(); serr != nil {
		return a.fail("maintain", serr)
	}
	if err != nil {
		fmt.Fprintf(a.errOut, "tm: maintain: %v\n", err)
	}
	if *jsonOut {
		a.printJSON(r)
	} else {
		printReport(a, r)
	}
	if err != nil {
		return 1
	}
	return 0
}

func printReport(a *app, r coord.Report) {
	fmt.Fprintf(a.out, "maintenance at %s: %d event(s), %d decayed\n",
		r.At.Format(time.RFC3339), r.Events, r.Decayed)
	for _, id := range r.Expired {
		fmt.Fprintf(a.out, "  expired claim on %s\n", id)
	}
	for _, o := range r.Overdue {
		fmt.Fprintf(a.out, "  overdue %s (%s) %q raised %s, %d pass(es)\n",
			o.EscalationID, o.Priority, o.Title, humanize.RelTime(r.At.Add(-o.Age), r.At, "ago", "from now"), o.Cycles)
	}
}

// cmdRebuild replays the stored log into a fresh aggregate. With
// --check it only compares the result against the loaded state;
// otherwise it overwrites the saved entity tables.
func (a *app) cmdRebuild(args []string) int {
	flags := a.newFlags("rebuild")
	check := flags.Bool("check", false, "compare only, don't write")
	if code, ok := parse(flags, args); !ok {
		return code
	}

	start := time.Now()
	events, err := a.store.ListEventsAfter(0, 0)
	if err != nil {
		return a.fail("rebuild", err)
	}
	fresh := coord.New(append(a.cfg.Options(), coord.WithLogger(a.logger))...)
	if err := fresh.Restore(events); err != nil {
		return a.fail("rebuild", err)
	}
	rebuilt := fresh.Snapshot()

	diff := cmp.Diff(a.agg.Snapshot(), rebuilt,
		cmpopts.EquateEmpty(),
		cmpopts.EquateApproxTime(time.Millisecond))
	if *check {
		if diff != "" {
			fmt.Fprintf(a.out, "state differs from replay of %d event(s) (-saved +replayed):\n%s", len(events), diff)
			return 1
		}
		fmt.Fprintf(a.out, "consistent: %d event(s) replayed in %s\n", len(events), time.Since(start).Round(time.Millisecond))
		return 0
	}

	if err := a.store.SaveState(rebuilt); err != nil {
		return a.fail("rebuild", err)
	}
	status := "unchanged"
	if diff != "" {
		status = "rewritten"
	}
	fmt.Fprintf(a.out, "rebuilt from %d event(s): state %s\n", len(events), status)
	return 0
}
