// Package escalation holds the side table of requests for human
// attention. Resolving an escalation changes its status; nothing is
// ever removed.
package escalation

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/daviddao/threadmill/pkg/model"
)

// Tracker is a flat table of escalations keyed by id. Not goroutine-safe.
type Tracker struct {
	items map[string]*model.Escalation
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{items: make(map[string]*model.Escalation)}
}

// Add stores e. Ids are unique.
func (t *Tracker) Add(e *model.Escalation) error {
	if e.ID == "" {
		return fmt.Errorf("%w: escalation id is empty", model.ErrInvalidCommand)
	}
	if _, ok := t.items[e.ID]; ok {
		return fmt.Errorf("%w: escalation %q exists", model.ErrInvalidCommand, e.ID)
	}
	t.items[e.ID] = e
	return nil
}

// Get returns the live escalation with id.
func (t *Tracker) Get(id string) (*model.Escalation, error) {
	e, ok := t.items[id]
	if !ok {
		return nil, model.NotFound(model.ErrEscalationNotFound, id)
	}
	return e, nil
}

// Len returns the number of escalations, resolved included.
func (t *Tracker) Len() int { return len(t.items) }

// OpenCount returns the number of unresolved escalations.
func (t *Tracker) OpenCount() int {
	n := 0
	for _, e := range t.items {
		if e.IsOpen() {
			n++
		}
	}
	return n
}

// Open returns the unresolved escalations, highest priority first and
// oldest first within a priority.
func (t *Tracker) Open() []*model.Escalation {
	var out []*model.Escalation
	for _, e := range t.items {
		if e.IsOpen() {
			out = append(out, e)
		}
	}
	Sort(out)
	return out
}

// All returns every escalation in the same order as Open.
func (t *Tracker) All() []*model.Escalation {
	out := make([]*model.Escalation, 0, len(t.items))
	for _, e := range t.items {
		out = append(out, e)
	}
	Sort(out)
	return out
}

// Sort orders es by priority descending, then CreatedAt ascending. Id
// breaks exact ties so the order is total.
func Sort(es []*model.Escalation) {
	slices.SortFunc(es, func(a, b *model.Escalation) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Clone deep-copies t.
func (t *Tracker) Clone() *Tracker {
	c := &Tracker{items: make(map[string]*model.Escalation, len(t.items))}
	for id, e := range t.items {
		cp := *e
		c.items[id] = &cp
	}
	return c
}

// Replace swaps in a new record for an existing escalation.
func (t *Tracker) Replace(e *model.Escalation) error {
	if _, ok := t.items[e.ID]; !ok {
		return model.NotFound(model.ErrEscalationNotFound, e.ID)
	}
	t.items[e.ID] = e
	return nil
}
