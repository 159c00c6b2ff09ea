package main

import (
	"fmt"

	humanize "github.com/dustin/go-humanize"

	"github.com/daviddao/threadmill/pkg/command"
	"github.com/daviddao/threadmill/pkg/model"
)

// maxBodyPreview truncates message bodies in text listings.
const maxBodyPreview = 120

func (a *app) cmdSend(args []string) int {
	flags := a.newFlags("send")
	agent := flags.String("agent", "", "sender (default THREADMILL_AGENT, else human)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	if !a.needArgs(flags, 2, "<to> <message>") {
		return 1
	}
	from := a.actor(*agent)
	events, err := a.run(command.SendMessage{
		Meta: a.meta(from),
		From: from,
		To:   flags.Arg(0),
		Body: joinArgs(flags, 1),
	})
	if err != nil {
		return a.fail("send", err)
	}
	if *jsonOut {
		a.printJSON(map[string]any{"message_id": events[0].EntityID, "to": flags.Arg(0)})
		return 0
	}
	fmt.Fprintf(a.out, "sent %s to %s\n", events[0].EntityID, flags.Arg(0))
	return 0
}

func (a *app) cmdRecv(args []string) int {
	flags := a.newFlags("recv")
	agent := flags.String("agent", "", "recipient")
	all := flags.Bool("all", false, "include messages already read")
	peek := flags.Bool("peek", false, "don't mark messages read")
	jsonOut := flags.Bool("json", false, "JSON output")
	if code, ok := parse(flags, args); !ok {
		return code
	}
	agentID, err := a.resolveAgent(*agent)
	if err != nil {
		return a.fail("recv", err)
	}

	msgs := a.agg.Inbox(agentID, !*all)
	if !*peek {
		for _, m := range msgs {
			if m.Read() {
				continue
			}
			if _, err := a.run(command.MarkRead{Meta: a.meta(agentID), MessageID: m.ID, Reader: agentID}); err != nil {
				return a.fail("recv", err)
			}
		}
	}

	if *jsonOut {
		a.printJSON(map[string]any{"messages": msgs, "count": len(msgs)})
		return 0
	}
	printInbox(a, msgs)
	return 0
}

// printInbox lists messages, newest last. Returns the count printed.
func printInbox(a *app, msgs []*model.Message) int {
	if len(msgs) == 0 {
		fmt.Fprintln(a.out, "no messages")
		return 0
	}
	now := a.agg.Now()
	for _, m := range msgs {
		body := m.Body
		if len(body) > maxBodyPreview {
			body = body[:maxBodyPreview] + "..."
		}
		fmt.Fprintf(a.out, "[%s] %s -> %s: %s\n",
			humanize.RelTime(m.SentAt, now, "ago", "from now"), m.From, m.To, body)
	}
	return len(msgs)
}
