package main

import (
	"fmt"

	humanize "github.com/dustin/go-humanize"

	"github.com/daviddao/threadmill/pkg/model"
)

// hottestShown caps the thread list in text status.
const hottestShown = 5

func (a *app) cmdStatus(args []string) int {
	flags := a.newFlags("status")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}

	stats := a.agg.Stats()
	agents := a.agg.Agents()
	escalations := a.agg.OpenEscalations()
	now := a.agg.Now()

	type agentInfo struct {
		*model.Agent
		Presence string `json:"presence"`
	}
	infos := make([]agentInfo, len(agents))
	for i, ag := range agents {
		infos[i] = agentInfo{Agent: ag, Presence: agentPresence(ag, now)}
	}

	if *jsonOut {
		a.printJSON(map[string]any{
			"stats":       stats,
			"agents":      infos,
			"escalations": escalations,
		})
		return 0
	}

	if stats.Paused {
		fmt.Fprintf(a.out, "PAUSED: %s\n\n", stats.PauseReason)
	}
	fmt.Fprintf(a.out, "threads: %d", stats.Threads)
	for _, s := range model.ThreadStates {
		if n := stats.ThreadsByState[s]; n > 0 {
			fmt.Fprintf(a.out, "  %s=%d", s, n)
		}
	}
	fmt.Fprintln(a.out)

	hottest := a.agg.ThreadsByTemperature()
	shown := 0
	for _, th := range hottest {
		if th.State.IsTerminal() {
			continue
		}
		if shown == hottestShown {
			break
		}
		fmt.Fprintf(a.out, "  %-14s %5.3f %-4s %s\n", th.ID, th.Temperature.Value, a.agg.Band(th), th.Metadata.Title)
		shown++
	}

	fmt.Fprintf(a.out, "\nagents: %d (%d active)\n", stats.Agents, stats.ActiveAgents)
	for _, ai := range infos {
		fmt.Fprintln(a.out, agentLine(ai.Agent, now))
	}

	fmt.Fprintf(a.out, "\nescalations: %d open\n", len(escalations))
	for _, x := range escalations {
		fmt.Fprintln(a.out, escalationLine(x, now))
	}

	fmt.Fprintf(a.out, "\nmessages unread: %d\n", stats.UnreadMessages)
	fmt.Fprintf(a.out, "events: %s", humanize.Comma(stats.Sequence))
	if stats.LastSnapshot > 0 {
		fmt.Fprintf(a.out, " (last snapshot at %s)", humanize.Comma(stats.LastSnapshot))
	}
	fmt.Fprintln(a.out)
	return 0
}
