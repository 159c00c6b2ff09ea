package main

import (
	"fmt"

	"github.com/daviddao/threadmill/pkg/command"
)

func (a *app) cmdClaim(args []string) int {
	flags := a.newFlags("claim")
	agent := flags.String("agent", "", "agent ID")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<thread> [--agent ID]") {
		return 1
	}
	agentID, err := a.resolveAgent(*agent)
	if err != nil {
		return a.fail("claim", err)
	}

	threadID := flags.Arg(0)
	events, err := a.run(command.ClaimThread{
		Meta:     a.meta(agentID),
		ThreadID: threadID,
		AgentID:  agentID,
	})
	if err != nil {
		if *jsonOut {
			a.printJSON(map[string]any{"claimed": false, "thread_id": threadID, "error": err.Error()})
		}
		return a.fail("claim", err)
	}
	if *jsonOut {
		a.printJSON(map[string]any{"claimed": true, "thread_id": threadID, "agent_id": agentID, "events": len(events)})
		return 0
	}
	if len(events) == 0 {
		fmt.Fprintf(a.out, "%s already holds %s\n", agentID, threadID)
		return 0
	}
	fmt.Fprintf(a.out, "claimed %s for %s\n", threadID, agentID)
	return 0
}

func (a *app) cmdRelease(args []string) int {
	flags := a.newFlags("release")
	agent := flags.String("agent", "", "releasing agent (must hold the claim)")
	force := flags.Bool("force", false, "release whoever holds the claim")
	reason := flags.StringP("reason", "r", "", "why the claim ends")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<thread> [--agent ID | --force]") {
		return 1
	}

	holder := ""
	if !*force {
		id, err := a.resolveAgent(*agent)
		if err != nil {
			return a.fail("release", fmt.Errorf("%w (or pass --force)", err))
		}
		holder = id
	}
	events, err := a.run(command.ReleaseThread{
		Meta:     a.meta(a.actor(*agent)),
		ThreadID: flags.Arg(0),
		AgentID:  holder,
		Reason:   *reason,
	})
	if err != nil {
		return a.fail("release", err)
	}
	if len(events) == 0 {
		fmt.Fprintf(a.out, "%s was not claimed\n", flags.Arg(0))
		return 0
	}
	fmt.Fprintf(a.out, "released %s\n", flags.Arg(0))
	return 0
}
