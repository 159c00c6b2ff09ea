package main

import (
	"fmt"
	"strconv"
	"strings"

	humanize "github.com/dustin/go-humanize"

	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/model"
)

func (a *app) cmdThread(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(a.errOut, "usage: tm thread create|move|show|list|activity|breakthrough|boost|merge ...")
		return 1
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "create", "new":
		return a.threadCreate(rest)
	case "move", "transition":
		return a.threadMove(rest)
	case "show":
		return a.threadShow(rest)
	case "list", "ls":
		return a.threadList(rest)
	case "activity":
		return a.threadActivity(rest)
	case "breakthrough":
		return a.threadSignal(rest, "breakthrough")
	case "boost":
		return a.threadSignal(rest, "boost")
	case "merge":
		return a.threadMerge(rest)
	default:
		fmt.Fprintf(a.errOut, "tm: thread: unknown subcommand %q\n", sub)
		return 1
	}
}

func (a *app) threadCreate(args []string) int {
	flags := a.newFlags("thread create")
	id := flags.String("id", "", "thread ID (generated if empty)")
	desc := flags.StringP("desc", "d", "", "description")
	tags := flags.StringSliceP("tag", "t", nil, "tag (repeatable, needs:<capability> marks a requirement)")
	parent := flags.String("parent", "", "parent thread ID")
	related := flags.StringSlice("related", nil, "related thread IDs")
	extra := flags.StringToString("meta", nil, "extra metadata key=value")
	agent := flags.String("agent", "", "acting agent")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<title> [flags]") {
		return 1
	}

	events, err := a.run(command.CreateThread{
		Meta:        a.meta(a.actor(*agent)),
		ID:          *id,
		Title:       joinArgs(flags, 0),
		Description: *desc,
		Tags:        *tags,
		ParentID:    *parent,
		Related:     *related,
		Extra:       *extra,
	})
	if err != nil {
		return a.fail("thread create", err)
	}
	th, err := a.agg.GetThread(events[0].EntityID)
	if err != nil {
		return a.fail("thread create", err)
	}
	if *jsonOut {
		a.printJSON(th)
		return 0
	}
	fmt.Fprintf(a.out, "created %s %q (%s)\n", th.ID, th.Metadata.Title, th.State)
	return 0
}

func (a *app) threadMove(args []string) int {
	flags := a.newFlags("thread move")
	reason := flags.StringP("reason", "r", "", "why the thread moves")
	agent := flags.String("agent", "", "acting agent")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 2, "<id> <state>") {
		return 1
	}
	to, err := model.ParseThreadState(flags.Arg(1))
	if err != nil {
		return a.fail("thread move", err)
	}
	events, err := a.run(command.TransitionThread{
		Meta:     a.meta(a.actor(*agent)),
		ThreadID: flags.Arg(0),
		To:       to,
		Reason:   *reason,
	})
	if err != nil {
		return a.fail("thread move", err)
	}
	for _, e := range events {
		fmt.Fprintf(a.out, "%s: %s\n", e.EntityID, e.Description())
	}
	return 0
}

func (a *app) threadShow(args []string) int {
	flags := a.newFlags("thread show")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<id>") {
		return 1
	}
	th, err := a.agg.GetThread(flags.Arg(0))
	if err != nil {
		return a.fail("thread show", err)
	}
	if *jsonOut {
		a.printJSON(th)
		return 0
	}

	fmt.Fprintf(a.out, "%s  %s\n", th.ID, th.Metadata.Title)
	fmt.Fprintf(a.out, "  state:       %s\n", th.State)
	fmt.Fprintf(a.out, "  temperature: %.3f (%s)\n", th.Temperature.Value, a.agg.Band(th))
	if th.ClaimedBy != "" {
		fmt.Fprintf(a.out, "  claimed by:  %s (%s)\n", th.ClaimedBy, humanize.Time(th.ClaimedAt))
	}
	if th.Metadata.Description != "" {
		fmt.Fprintf(a.out, "  description: %s\n", th.Metadata.Description)
	}
	if len(th.Metadata.Tags) > 0 {
		fmt.Fprintf(a.out, "  tags:        %s\n", strings.Join(th.Metadata.Tags, ", "))
	}
	if th.Metadata.ParentID != "" {
		fmt.Fprintf(a.out, "  parent:      %s\n", th.Metadata.ParentID)
	}
	if th.MergedInto != "" {
		fmt.Fprintf(a.out, "  merged into: %s\n", th.MergedInto)
	}
	if len(th.ArtifactIDs) > 0 {
		fmt.Fprintf(a.out, "  artifacts:   %s\n", strings.Join(th.ArtifactIDs, ", "))
	}
	fmt.Fprintf(a.out, "  updated:     %s (v%d)\n", humanize.Time(th.UpdatedAt), th.Version)
	return 0
}

func (a *app) threadList(args []string) int {
	flags := a.newFlags("thread list")
	state := flags.StringP("state", "s", "", "only threads in this state")
	available := flags.Bool("available", false, "only unclaimed, claimable threads")
	hot := flags.Bool("by-temperature", false, "hottest first")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}

	var threads []*model.Thread
	switch {
	case *available:
		threads = a.agg.AvailableThreads()
	case *state != "":
		s, err := model.ParseThreadState(*state)
		if err != nil {
			return a.fail("thread list", err)
		}
		threads = a.agg.ThreadsByState(s)
	case *hot:
		threads = a.agg.ThreadsByTemperature()
	default:
		threads = a.agg.Threads()
	}

	if *jsonOut {
		a.printJSON(map[string]any{"threads": threads, "count": len(threads)})
		return 0
	}
	if len(threads) == 0 {
		fmt.Fprintln(a.out, "no threads")
		return 0
	}
	for _, th := range threads {
		claim := ""
		if th.ClaimedBy != "" {
			claim = " @" + th.ClaimedBy
		}
		fmt.Fprintf(a.out, "%-14s %-9s %5.3f %-4s %s%s\n",
			th.ID, th.State, th.Temperature.Value, a.agg.Band(th), th.Metadata.Title, claim)
	}
	return 0
}

func (a *app) threadActivity(args []string) int {
	flags := a.newFlags("thread activity")
	weight := flags.Float64P("weight", "w", 1, "activity weight")
	agent := flags.String("agent", "", "acting agent")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<id> [--weight W]") {
		return 1
	}
	return a.printTemperature("thread activity", flags.Arg(0), command.RecordActivity{
		Meta:     a.meta(a.actor(*agent)),
		ThreadID: flags.Arg(0),
		Weight:   *weight,
	})
}

// threadSignal handles breakthrough and boost, which both take a value
// in [0,1].
func (a *app) threadSignal(args []string, kind string) int {
	flags := a.newFlags("thread " + kind)
	agent := flags.String("agent", "", "acting agent")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 2, "<id> <value in [0,1]>") {
		return 1
	}
	v, err := strconv.ParseFloat(flags.Arg(1), 64)
	if err != nil {
		return a.fail("thread "+kind, fmt.Errorf("%w: value %q", model.ErrInvalidCommand, flags.Arg(1)))
	}
	meta := a.meta(a.actor(*agent))
	var cmd command.Command = command.BoostThread{Meta: meta, ThreadID: flags.Arg(0), Boost: v}
	if kind == "breakthrough" {
		cmd = command.RecordBreakthrough{Meta: meta, ThreadID: flags.Arg(0), Strength: v}
	}
	return a.printTemperature("thread "+kind, flags.Arg(0), cmd)
}

func (a *app) printTemperature(name, id string, cmd command.Command) int {
	if _, err := a.run(cmd); err != nil {
		return a.fail(name, err)
	}
	th, err := a.agg.GetThread(id)
	if err != nil {
		return a.fail(name, err)
	}
	fmt.Fprintf(a.out, "%s: temperature %.3f (%s)\n", th.ID, th.Temperature.Value, a.agg.Band(th))
	return 0
}

func (a *app) threadMerge(args []string) int {
	flags := a.newFlags("thread merge")
	agent := flags.String("agent", "", "acting agent")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 2, "<source> <target>") {
		return 1
	}
	events, err := a.run(command.MergeThreads{
		Meta:     a.meta(a.actor(*agent)),
		SourceID: flags.Arg(0),
		TargetID: flags.Arg(1),
	})
	if err != nil {
		return a.fail("thread merge", err)
	}
	fmt.Fprintf(a.out, "merged %s into %s (%d events)\n", flags.Arg(0), flags.Arg(1), len(events))
	return 0
}
