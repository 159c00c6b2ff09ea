package main

import (
	"fmt"

	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/dispatch"
)

// dispatchActor is stamped on claims made by dispatch --apply.
const dispatchActor = "dispatch"

func (a *app) cmdDispatch(args []string) int {
	flags := a.newFlags("dispatch")
	apply := flags.Bool("apply", false, "claim each suggested thread for its agent")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}

	plan := dispatch.Compute(a.agg.Agents(), a.agg.AvailableThreads(), a.agg.Thresholds())
	if *apply {
		meta := a.meta(dispatchActor)
		for _, as := range plan.Assignments {
			if _, err := a.run(command.ClaimThread{Meta: meta, ThreadID: as.ThreadID, AgentID: as.AgentID}); err != nil {
				return a.fail("dispatch", err)
			}
		}
	}

	if *jsonOut {
		a.printJSON(plan)
		return 0
	}
	if len(plan.Assignments) == 0 {
		fmt.Fprintln(a.out, "nothing to dispatch")
	}
	verb := "suggest"
	if *apply {
		verb = "claimed"
	}
	for _, as := range plan.Assignments {
		fmt.Fprintf(a.out, "%s %-14s -> %-14s %-4s %.3f  %s\n",
			verb, as.AgentID, as.ThreadID, as.Band, as.Temperature, as.Title)
	}
	if len(plan.IdleAgents) > 0 {
		fmt.Fprintf(a.out, "idle: %v\n", plan.IdleAgents)
	}
	if len(plan.Unmatched) > 0 {
		fmt.Fprintf(a.out, "unmatched: %v\n", plan.Unmatched)
	}
	return 0
}
