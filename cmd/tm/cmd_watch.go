package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// watchBatch caps the events read per poll.
const watchBatch = 100

func (a *app) cmdWatch(args []string) int {
	flags := a.newFlags("watch")
	interval := flags.DurationP("interval", "i", time.Second, "poll interval")
	since := flags.Int64("since", -1, "start after this sequence (default: now)")
	kind := flags.StringP("kind", "k", "", "filter by event kind")
	jsonOut := flags.Bool("json", false, "JSON output (one JSON object per line)")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if *interval <= 0 {
		return a.fail("watch", fmt.Errorf("interval must be positive, got %s", *interval))
	}

	cursor := *since
	if cursor < 0 {
		seq, err := a.store.MaxSequence()
		if err != nil {
			return a.fail("watch", err)
		}
		cursor = seq
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(a.errOut, "watching events after #%d (poll every %s, ctrl-c to stop)\n", cursor, *interval)
	if err := a.watch(ctx, cursor, *interval, *kind, *jsonOut); err != nil {
		return a.fail("watch", err)
	}
	fmt.Fprintln(a.errOut, "\nstopped")
	return 0
}

// watch polls the store for events after cursor until ctx is done. Read
// errors are reported and the next tick retries.
func (a *app) watch(ctx context.Context, cursor int64, interval time.Duration, kind string, asJSON bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				events, err := a.store.ListEventsAfter(cursor, watchBatch)
				if err != nil {
					fmt.Fprintf(a.errOut, "tm: watch: %v\n", err)
					break
				}
				if len(events) == 0 {
					break
				}
				cursor = events[len(events)-1].Sequence
				for _, e := range filterKind(events, kind) {
					printEvent(a.out, e, asJSON)
				}
				if len(events) < watchBatch {
					break
				}
			}
		}
	}
}
