package main

import (
	"fmt"
	"slices"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/model"
)

func (a *app) cmdAgent(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(a.errOut, "usage: tm agent register|list|idle|pause|resume|terminate ...")
		return 1
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "register":
		return a.agentRegister(rest)
	case "list", "ls":
		return a.agentList(rest)
	case "idle":
		return a.agentIdle(rest)
	case "pause", "resume", "terminate":
		return a.agentLifecycle(sub, rest)
	default:
		fmt.Fprintf(a.errOut, "tm: agent: unknown subcommand %q\n", sub)
		return 1
	}
}

func (a *app) agentRegister(args []string) int {
	flags := a.newFlags("agent register")
	id := flags.String("id", "", "agent ID (default {type}-{n})")
	token := flags.String("token", "", "auth token (generated if empty)")
	meta := flags.StringToString("meta", nil, "metadata key=value")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<type> [--id ID]") {
		return 1
	}
	typ, err := model.ParseAgentType(flags.Arg(0))
	if err != nil {
		return a.fail("agent register", fmt.Errorf("%w (valid: %v)", err, model.AgentTypes))
	}
	tok := *token
	if tok == "" {
		tok = uuid.NewString()
	}

	events, err := a.run(command.RegisterAgent{
		Meta:     a.meta(humanActor),
		ID:       *id,
		Type:     typ,
		Token:    tok,
		Metadata: *meta,
	})
	if err != nil {
		return a.fail("agent register", err)
	}
	agentID := events[0].EntityID
	if *jsonOut {
		a.printJSON(map[string]any{"id": agentID, "type": typ, "token": tok})
		return 0
	}
	fmt.Fprintf(a.out, "registered %s (%s)\n", agentID, typ)
	fmt.Fprintf(a.out, "  token: %s  (shown once; send as Authorization: Bearer <token>)\n", tok)
	fmt.Fprintf(a.out, "  export THREADMILL_AGENT=%s\n", agentID)
	return 0
}

func (a *app) agentList(args []string) int {
	flags := a.newFlags("agent list")
	typ := flags.StringP("type", "t", "", "only agents of this type")
	idle := flags.Bool("idle", false, "only idle agents")
	working := flags.Bool("working", false, "only working agents")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if *idle && *working {
		return a.fail("agent list", fmt.Errorf("--idle and --working are exclusive"))
	}

	var t model.AgentType
	if *typ != "" {
		var err error
		if t, err = model.ParseAgentType(*typ); err != nil {
			return a.fail("agent list", err)
		}
	}
	var agents []*model.Agent
	switch {
	case *idle:
		agents = a.agg.IdleAgents()
	case *working:
		agents = a.agg.WorkingAgents()
	case t != "":
		agents = a.agg.AgentsOfType(t)
	default:
		agents = a.agg.Agents()
	}
	if t != "" {
		agents = slices.DeleteFunc(agents, func(ag *model.Agent) bool { return ag.Type != t })
	}
	if *jsonOut {
		a.printJSON(map[string]any{"agents": agents, "count": len(agents)})
		return 0
	}
	if len(agents) == 0 {
		fmt.Fprintln(a.out, "no agents")
		return 0
	}
	now := a.agg.Now()
	for _, ag := range agents {
		fmt.Fprintln(a.out, agentLine(ag, now))
	}
	return 0
}

// agentIdle prints the agent dispatch would hand the next thread of a
// type to. Exit 1 when none is free.
func (a *app) agentIdle(args []string) int {
	flags := a.newFlags("agent idle")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<type>") {
		return 1
	}
	typ, err := model.ParseAgentType(flags.Arg(0))
	if err != nil {
		return a.fail("agent idle", err)
	}
	ag, ok := a.agg.FindIdle(typ)
	if !ok {
		fmt.Fprintf(a.errOut, "no idle %s agent\n", typ)
		return 1
	}
	fmt.Fprintln(a.out, ag.ID)
	return 0
}

func agentLine(ag *model.Agent, now time.Time) string {
	on := ""
	if ag.CurrentThread != "" {
		on = " on " + ag.CurrentThread
	}
	return fmt.Sprintf("  %s %-14s %-12s %-10s%s  done=%d  last active %s",
		presenceIndicator(agentPresence(ag, now)), ag.ID, ag.Type, ag.Status, on,
		ag.ThreadsCompleted, humanize.RelTime(ag.LastActiveAt, now, "ago", "from now"))
}

func (a *app) agentLifecycle(op string, args []string) int {
	flags := a.newFlags("agent " + op)
	reason := flags.StringP("reason", "r", "", "reason (terminate only)")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<agent>") {
		return 1
	}
	id := flags.Arg(0)
	meta := a.meta(humanActor)
	var cmd command.Command
	switch op {
	case "pause":
		cmd = command.PauseAgent{Meta: meta, AgentID: id}
	case "resume":
		cmd = command.ResumeAgent{Meta: meta, AgentID: id}
	default:
		cmd = command.TerminateAgent{Meta: meta, AgentID: id, Reason: *reason}
	}
	events, err := a.run(cmd)
	if err != nil {
		return a.fail("agent "+op, err)
	}
	for _, e := range events {
		fmt.Fprintf(a.out, "%s: %s\n", e.EntityID, e.Description())
	}
	return 0
}

// agentPresence buckets an agent by how recently it was active.
func agentPresence(ag *model.Agent, now time.Time) string {
	if ag.Status == model.Terminated {
		return "gone"
	}
	since := now.Sub(ag.LastActiveAt)
	switch {
	case since < 2*time.Minute:
		return "recent"
	case since < 30*time.Minute:
		return "quiet"
	default:
		return "stale"
	}
}

// presenceIndicator returns a short text indicator for display.
func presenceIndicator(presence string) string {
	switch presence {
	case "recent":
		return "[+]"
	case "quiet":
		return "[~]"
	default:
		return "[-]"
	}
}
