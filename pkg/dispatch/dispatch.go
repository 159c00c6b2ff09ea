// Package dispatch suggests which idle agent should take which thread.
//
// A plan pairs idle agents with available threads, hottest band first.
// Within a band, threads already Active go before Embryo ones, then
// higher temperature wins, then creation order. Each thread is offered
// to the first idle agent, in registration order, whose type has every
// capability the thread asks for.
//
// A thread asks for capabilities with "needs:<capability>" tags, e.g.
// "needs:write_code". Planning is advisory: a plan claims nothing until
// its caller issues the claims.
package dispatch

import (
	"cmp"
	"slices"
	"strings"

	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/temperature"
)

// NeedsPrefix marks a capability requirement tag.
const NeedsPrefix = "needs:"

// Assignment is one suggested pairing.
type Assignment struct {
	AgentID     string           `json:"agent_id"`
	AgentType   model.AgentType  `json:"agent_type"`
	ThreadID    string           `json:"thread_id"`
	Title       string           `json:"title"`
	Band        temperature.Band `json:"band"`
	Temperature float64          `json:"temperature"`
}

// Plan is the result of Compute.
type Plan struct {
	Assignments []Assignment `json:"assignments"`
	// IdleAgents were left without a thread.
	IdleAgents []string `json:"idle_agents,omitempty"`
	// Unmatched threads had no suitable idle agent.
	Unmatched []string `json:"unmatched,omitempty"`
}

// Requirements returns the capabilities a thread asks for.
func Requirements(t *model.Thread) []model.Capability {
	var out []model.Capability
	for _, tag := range t.Metadata.Tags {
		if c, ok := strings.CutPrefix(tag, NeedsPrefix); ok && c != "" {
			out = append(out, model.Capability(c))
		}
	}
	return out
}

// Suits reports whether an agent of type typ can work on t.
func Suits(typ model.AgentType, t *model.Thread) bool {
	for _, c := range Requirements(t) {
		if !typ.Can(c) {
			return false
		}
	}
	return true
}

// Order sorts threads into dispatch order in place.
func Order(threads []*model.Thread, th temperature.Thresholds) {
	slices.SortStableFunc(threads, func(a, b *model.Thread) int {
		if c := cmp.Compare(a.Temperature.Band(th).Rank(), b.Temperature.Band(th).Rank()); c != 0 {
			return c
		}
		if aw, bw := a.State.IsWorkable(), b.State.IsWorkable(); aw != bw {
			if aw {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.Temperature.Value, a.Temperature.Value)
	})
}

// Compute plans assignments. Agents that are not idle and threads that
// are not available are ignored, so callers may pass full listings.
// The inputs are not modified.
func Compute(agents []*model.Agent, threads []*model.Thread, th temperature.Thresholds) Plan {
	var idle []*model.Agent
	for _, a := range agents {
		if a.Status == model.Idle {
			idle = append(idle, a)
		}
	}
	var open []*model.Thread
	for _, t := range threads {
		if t.IsAvailable() {
			open = append(open, t)
		}
	}
	Order(open, th)

	plan := Plan{Assignments: []Assignment{}}
	taken := make([]bool, len(idle))
	for _, t := range open {
		matched := false
		for i, a := range idle {
			if taken[i] || !Suits(a.Type, t) {
				continue
			}
			taken[i] = true
			matched = true
			plan.Assignments = append(plan.Assignments, Assignment{
				AgentID:     a.ID,
				AgentType:   a.Type,
				ThreadID:    t.ID,
				Title:       t.Metadata.Title,
				Band:        t.Temperature.Band(th),
				Temperature: t.Temperature.Value,
			})
			break
		}
		if !matched {
			plan.Unmatched = append(plan.Unmatched, t.ID)
		}
	}
	for i, a := range idle {
		if !taken[i] {
			plan.IdleAgents = append(plan.IdleAgents, a.ID)
		}
	}
	return plan
}

// For returns the assignment suggested for agentID, if any.
func (p Plan) For(agentID string) (Assignment, bool) {
	for _, a := range p.Assignments {
		if a.AgentID == agentID {
			return a, true
		}
	}
	return Assignment{}, false
}
