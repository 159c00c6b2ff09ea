package main

import (
	"fmt"

	"github.com/daviddao/threadmill/pkg/command"
)

func (a *app) cmdArtifact(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(a.errOut, "usage: tm artifact add|update|list ...")
		return 1
	}
	switch args[0] {
	case "add":
		return a.artifactAdd(args[1:])
	case "update":
		return a.artifactUpdate(args[1:])
	case "list", "ls":
		return a.artifactList(args[1:])
	default:
		fmt.Fprintf(a.errOut, "tm: artifact: unknown subcommand %q\n", args[0])
		return 1
	}
}

func (a *app) artifactAdd(args []string) int {
	flags := a.newFlags("artifact add")
	thread := flags.String("thread", "", "thread the artifact belongs to")
	kind := flags.StringP("kind", "k", "", "artifact kind (default file)")
	summary := flags.StringP("summary", "s", "", "one-line summary")
	agent := flags.String("agent", "", "creating agent")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<path> [--thread ID]") {
		return 1
	}
	events, err := a.run(command.AddArtifact{
		Meta:     a.meta(a.actor(*agent)),
		ThreadID: *thread,
		Kind:     *kind,
		Path:     flags.Arg(0),
		Summary:  *summary,
	})
	if err != nil {
		return a.fail("artifact add", err)
	}
	fmt.Fprintf(a.out, "recorded %s\n", events[0].EntityID)
	return 0
}

func (a *app) artifactUpdate(args []string) int {
	flags := a.newFlags("artifact update")
	path := flags.String("path", "", "new path")
	summary := flags.StringP("summary", "s", "", "new summary")
	agent := flags.String("agent", "", "modifying agent")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 1, "<artifact> [--path P] [--summary S]") {
		return 1
	}
	if _, err := a.run(command.ModifyArtifact{
		Meta:       a.meta(a.actor(*agent)),
		ArtifactID: flags.Arg(0),
		Path:       *path,
		Summary:    *summary,
	}); err != nil {
		return a.fail("artifact update", err)
	}
	fmt.Fprintf(a.out, "updated %s\n", flags.Arg(0))
	return 0
}

func (a *app) artifactList(args []string) int {
	flags := a.newFlags("artifact list")
	thread := flags.String("thread", "", "only artifacts of this thread")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	arts := a.agg.Artifacts()
	if *thread != "" {
		filtered := arts[:0]
		for _, art := range arts {
			if art.ThreadID == *thread {
				filtered = append(filtered, art)
			}
		}
		arts = filtered
	}
	if *jsonOut {
		a.printJSON(map[string]any{"artifacts": arts, "count": len(arts)})
		return 0
	}
	if len(arts) == 0 {
		fmt.Fprintln(a.out, "no artifacts")
		return 0
	}
	for _, art := range arts {
		fmt.Fprintf(a.out, "  %-12s %-8s r%d %s", art.ID, art.Kind, art.Revision, art.Path)
		if art.Summary != "" {
			fmt.Fprintf(a.out, "  %s", art.Summary)
		}
		fmt.Fprintln(a.out)
	}
	return 0
}
