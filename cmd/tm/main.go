// Command tm is the threadmill CLI: it records work on research threads
// as events and coordinates the agents that claim them.
package main

import (
	"fmt"
	"os"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("tm", version)
		return
	}

	a, err := newApp(os.Args[1] == "serve")
	if err != nil {
		fatal("%v", err)
	}
	code := a.dispatch(os.Args[1], os.Args[2:])
	a.Close()
	os.Exit(code)
}

// dispatch runs one subcommand and returns its exit code.
func (a *app) dispatch(name string, args []string) int {
	switch name {
	// Setup
	case "init":
		return a.cmdInit(args)
	case "serve":
		return a.cmdServe(args)

	// Threads
	case "thread", "th":
		return a.cmdThread(args)
	case "claim":
		return a.cmdClaim(args)
	case "release":
		return a.cmdRelease(args)
	case "artifact":
		return a.cmdArtifact(args)
	case "dispatch":
		return a.cmdDispatch(args)

	// Agents
	case "agent":
		return a.cmdAgent(args)
	case "send":
		return a.cmdSend(args)
	case "recv":
		return a.cmdRecv(args)

	// Escalations
	case "escalate":
		return a.cmdEscalate(args)
	case "escalations":
		return a.cmdEscalations(args)
	case "ack":
		return a.cmdAck(args)
	case "resolve":
		return a.cmdResolve(args)

	// System
	case "pause":
		return a.cmdPause(args)
	case "resume":
		return a.cmdResume(args)
	case "status":
		return a.cmdStatus(args)
	case "log":
		return a.cmdLog(args)
	case "watch":
		return a.cmdWatch(args)
	case "maintain":
		return a.cmdMaintain(args)
	case "snapshot":
		return a.cmdSnapshot(args)
	case "rebuild":
		return a.cmdRebuild(args)

	default:
		fmt.Fprintf(a.errOut, "tm: unknown command %q\n", name)
		fmt.Fprintln(a.errOut, "Run 'tm --help' for usage.")
		return 1
	}
}

func printUsage() {
	fmt.Print(`tm - threadmill, event-sourced coordination for research agents

Threads are units of research with a lifecycle and a decaying
temperature. Agents claim threads, record progress and escalate to a
human. Every change is an event in a shared SQLite log.

Usage:
  tm <command> [flags]

Setup:
  init                        Write the config, inject AGENTS.md
  serve [--addr A]            Serve the HTTP API and run maintenance

Threads:
  thread create <title>       Create a thread (--tag, --parent, --desc)
  thread move <id> <state>    Transition a thread
  thread show <id>            Show one thread
  thread list                 List threads (--state, --available)
  thread activity <id>        Record activity (--weight)
  thread breakthrough <id> <s>  Record a breakthrough of strength s
  thread boost <id> <b>       Apply a human boost
  thread merge <src> <dst>    Merge src into dst
  claim <thread>              Claim a thread for --agent
  release <thread>            Release a claim
  artifact add|update|list    Record outputs
  dispatch [--apply]          Suggest (or make) agent assignments

Agents:
  agent register <type>       Register an agent, prints its token
  agent list [--idle|--working] [--type T]
                              List agents
  agent idle <type>           Print an idle agent of a type
  agent pause|resume <id>     Suspend or resume an agent
  agent terminate <id>        Retire an agent
  send <to> <message>         Send a message ("*" broadcasts)
  recv [--peek]               Read and mark your messages

Escalations:
  escalate <title>            Ask a human (--priority, --category)
  escalations [--all]         List escalations
  ack <id>                    Acknowledge an escalation
  resolve <id> <resolution>   Resolve an escalation

System:
  pause [reason]              Stop new claims
  resume                      Allow claims again
  status                      Overview of threads, agents, escalations
  log [--since N]             Query the event log
  watch [--interval D]        Stream events as they are recorded
  maintain                    Run one maintenance pass
  snapshot [--reason R]       Record a snapshot marker
  rebuild [--check]           Replay the log and compare or rewrite state

Aliases:
  th = thread

Environment:
  THREADMILL_CONFIG     Config path (default: .threadmill/config.yaml)
  THREADMILL_DB         SQLite database path (overrides store.path)
  THREADMILL_ADDR       Listen address (overrides server.addr)
  THREADMILL_LOG_LEVEL  Log level (overrides logging.level)
  THREADMILL_AGENT      Default agent ID (avoids passing --agent)

Most commands support --json for machine-readable output.

Exit codes:
  0  success
  1  error
  2  conflict (thread claimed, not claimable, agent busy, system paused)
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "tm: "+format+"\n", args...)
	os.Exit(1)
}
