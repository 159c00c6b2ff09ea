package main

import (
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/model"
)

func (a *app) cmdEscalate(args []string) int {
	flags := a.newFlags("escalate")
	priority := flags.StringP("priority", "p", "medium", "low, medium, high or critical")
	category := flags.StringP("category", "c", "", "category (default general)")
	desc := flags.StringP("desc", "d", "", "description")
	agent := flags.String("agent", "", "reporter (default THREADMILL_AGENT, else human)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<title> [--priority P]") {
		return 1
	}
	p, err := model.ParsePriority(*priority)
	if err != nil {
		return a.fail("escalate", err)
	}
	reporter := a.actor(*agent)
	events, err := a.run(command.CreateEscalation{
		Meta:        a.meta(reporter),
		Category:    *category,
		Title:       joinArgs(flags, 0),
		Description: *desc,
		ReporterID:  reporter,
		Priority:    p,
	})
	if err != nil {
		return a.fail("escalate", err)
	}
	id := events[0].EntityID
	if *jsonOut {
		a.printJSON(map[string]any{"escalation_id": id, "priority": p})
		return 0
	}
	fmt.Fprintf(a.out, "escalated %s (%s)\n", id, p)
	return 0
}

func (a *app) cmdEscalations(args []string) int {
	flags := a.newFlags("escalations")
	all := flags.Bool("all", false, "include resolved escalations")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	list := a.agg.OpenEscalations()
	if *all {
		list = a.agg.AllEscalations()
	}
	if *jsonOut {
		a.printJSON(map[string]any{"escalations": list, "count": len(list)})
		return 0
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "no escalations")
		return 0
	}
	now := a.agg.Now()
	for _, x := range list {
		fmt.Fprintln(a.out, escalationLine(x, now))
	}
	return 0
}

func escalationLine(x *model.Escalation, now time.Time) string {
	return fmt.Sprintf("  %-12s %-8s %-12s %s  (%s, by %s, %s)",
		x.ID, x.Priority, x.Status, x.Title, x.Category, x.ReporterID,
		humanize.RelTime(x.CreatedAt, now, "ago", "from now"))
}

func (a *app) cmdAck(args []string) int {
	flags := a.newFlags("ack")
	by := flags.String("by", "", "who acknowledges (default THREADMILL_AGENT, else human)")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<escalation>") {
		return 1
	}
	who := a.actor(*by)
	if _, err := a.run(command.AcknowledgeEscalation{
		Meta:         a.meta(who),
		EscalationID: flags.Arg(0),
		By:           who,
	}); err != nil {
		return a.fail("ack", err)
	}
	fmt.Fprintf(a.out, "acknowledged %s\n", flags.Arg(0))
	return 0
}

func (a *app) cmdResolve(args []string) int {
	flags := a.newFlags("resolve")
	by := flags.String("by", "", "who resolves (default THREADMILL_AGENT, else human)")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 2, "<escalation> <resolution>") {
		return 1
	}
	who := a.actor(*by)
	if _, err := a.run(command.ResolveEscalation{
		Meta:         a.meta(who),
		EscalationID: flags.Arg(0),
		By:           who,
		Resolution:   joinArgs(flags, 1),
	}); err != nil {
		return a.fail("resolve", err)
	}
	fmt.Fprintf(a.out, "resolved %s\n", flags.Arg(0))
	return 0
}
