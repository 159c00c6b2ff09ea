package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/daviddao/threadmill/pkg/event"
)

func (a *app) cmdLog(args []string) int {
	flags := a.newFlags("log")
	since := flags.Int64("since", 0, "fetch events with sequence > this")
	limit := flags.IntP("limit", "n", 50, "max events to return (0 = all)")
	entity := flags.StringP("entity", "e", "", "only events of this entity")
	kind := flags.StringP("kind", "k", "", "filter by event kind, e.g. thread.claimed")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}

	var (
		events []event.Event
		err    error
	)
	if *entity != "" {
		events, err = a.store.ListEventsForEntity(*entity)
	} else {
		events, err = a.store.ListEventsAfter(*since, *limit)
	}
	if err != nil {
		return a.fail("log", err)
	}
	events = filterKind(events, *kind)

	if *jsonOut {
		a.printJSON(map[string]any{"events": events, "count": len(events)})
		return 0
	}
	if len(events) == 0 {
		fmt.Fprintln(a.out, "no events")
		return 0
	}
	for _, e := range events {
		printEvent(a.out, e, false)
	}
	return 0
}

func filterKind(events []event.Event, kind string) []event.Event {
	if kind == "" {
		return events
	}
	filtered := events[:0]
	for _, e := range events {
		if string(e.Kind()) == kind {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// printEvent writes one event as a text line or a JSON object.
func printEvent(w io.Writer, e event.Event, asJSON bool) {
	if asJSON {
		b, _ := json.Marshal(e)
		fmt.Fprintln(w, string(b))
		return
	}
	actor := e.ActorID
	if actor == "" {
		actor = "-"
	}
	fmt.Fprintf(w, "#%-5d %s %-12s %-14s %s\n",
		e.Sequence, e.Timestamp.Format(time.DateTime), actor, e.EntityID, e.Description())
}
