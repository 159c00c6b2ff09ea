package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	agentsBeginMarker = "<!-- BEGIN THREADMILL INTEGRATION -->"
	agentsEndMarker   = "<!-- END THREADMILL INTEGRATION -->"
)

const agentsSection = `<!-- BEGIN THREADMILL INTEGRATION -->
## Research Coordination with tm (threadmill)

This project tracks research threads with **tm**. Every change is an
event; run ` + "`tm status`" + ` for the current picture.

**Quick reference:**
- ` + "`tm dispatch`" + `            Which thread you should take next
- ` + "`tm claim <thread>`" + `      Claim before working (exit 2 = taken)
- ` + "`tm thread activity <id>`" + ` Record progress, keeps the thread warm
- ` + "`tm release <thread>`" + `    Release when you stop
- ` + "`tm escalate <title>`" + `    Ask a human
- ` + "`tm recv`" + `                Read your messages

**Environment:** ` + "`export THREADMILL_AGENT=<your-id>`" + `

**Session close:** Release your claim and record artifacts before ending.
<!-- END THREADMILL INTEGRATION -->
`

func (a *app) cmdInit(args []string) int {
	flags := a.newFlags("init")
	agentsFile := flags.String("agents-md", "AGENTS.md", "path to AGENTS.md")
	skipAgents := flags.Bool("skip-agents-md", false, "don't touch AGENTS.md")
	force := flags.Bool("force", false, "overwrite an existing config file")
	if code, ok := parse(flags, args); !ok {
		return code
	}

	_, err := os.Stat(a.cfgPath)
	switch {
	case os.IsNotExist(err) || *force:
		if err := a.cfg.Save(a.cfgPath); err != nil {
			return a.fail("init", err)
		}
		fmt.Fprintf(a.out, "wrote %s\n", a.cfgPath)
	case err != nil:
		return a.fail("init", err)
	default:
		fmt.Fprintf(a.out, "keeping %s\n", a.cfgPath)
	}

	stats := a.agg.Stats()
	fmt.Fprintf(a.out, "initialized threadmill (db: %s)\n", a.cfg.Store.Path)
	if stats.Sequence > 0 {
		fmt.Fprintf(a.out, "  %d thread(s), %d agent(s), %d event(s)\n",
			stats.Threads, stats.Agents, stats.Sequence)
	}

	if !*skipAgents {
		if err := injectAgentsSection(a.out, *agentsFile); err != nil {
			fmt.Fprintf(a.errOut, "tm: AGENTS.md: %v\n", err)
		}
	}

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "next steps:")
	fmt.Fprintln(a.out, "  tm agent register research   # prints an id and token")
	fmt.Fprintln(a.out, "  export THREADMILL_AGENT=<id>")
	fmt.Fprintln(a.out, "  tm thread create \"<title>\"")
	return 0
}

// injectAgentsSection creates or updates AGENTS.md with the threadmill
// section. Uses HTML markers for idempotent updates.
func injectAgentsSection(w io.Writer, path string) error {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		newContent := "# Agent Instructions\n\n" + agentsSection
		if err := os.WriteFile(path, []byte(newContent), 0o644); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		fmt.Fprintf(w, "  created %s with threadmill section\n", path)
		return nil
	} else if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	text := string(content)
	start := strings.Index(text, agentsBeginMarker)
	end := strings.Index(text, agentsEndMarker)
	if start >= 0 && end > start {
		endOfMarker := end + len(agentsEndMarker)
		if nl := strings.Index(text[endOfMarker:], "\n"); nl >= 0 {
			endOfMarker += nl + 1
		}
		newContent := text[:start] + agentsSection + text[endOfMarker:]
		if err := os.WriteFile(path, []byte(newContent), 0o644); err != nil {
			return fmt.Errorf("update %s: %w", path, err)
		}
		fmt.Fprintf(w, "  updated threadmill section in %s\n", path)
		return nil
	}

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	text += "\n" + agentsSection
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	fmt.Fprintf(w, "  added threadmill section to %s\n", path)
	return nil
}
