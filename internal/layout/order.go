// Package layout is the event-layout engine: it resolves which events are
// visible in a cell, in what stacking order, and which vertical slivers of
// each event remain unoccluded by higher-stacked overlap.
package layout

import (
	"sort"

	"weekgrid/internal/config"
	"weekgrid/internal/model"
)

// Resolver applies the declarative hide/under/over directives from the
// entity list to a cell's candidate events. Directives are keyed by event
// name; events without a name never carry directives.
//
// Throughout this package the stacking convention is last-in-list on top:
// the final element of an ordered list is the rendered topmost event.
type Resolver struct {
	hide  map[string][]model.Criteria
	under map[string][]model.Criteria
	over  map[string][]model.Criteria

	// rank maps entity refs to declaration index; the baseline stacking
	// order is declaration order, later entries on top.
	rank map[string]int
}

// NewResolver builds a Resolver from the configured entity list.
func NewResolver(entities []config.EntityConfig) *Resolver {
	r := &Resolver{
		hide:  make(map[string][]model.Criteria),
		under: make(map[string][]model.Criteria),
		over:  make(map[string][]model.Criteria),
		rank:  make(map[string]int, len(entities)),
	}
	for i, ent := range entities {
		if _, seen := r.rank[ent.Entity]; !seen {
			r.rank[ent.Entity] = i
		}
		if ent.Name == "" {
			continue
		}
		r.hide[ent.Name] = append(r.hide[ent.Name], ent.Hide...)
		r.under[ent.Name] = append(r.under[ent.Name], ent.Under...)
		r.over[ent.Name] = append(r.over[ent.Name], ent.Over...)
	}
	return r
}

// Baseline puts candidate events into the default stacking order: blank
// placeholders at the bottom, then entity declaration order, later-declared
// entities on top. The sort is stable, so events of one entity keep their
// incoming (start-time) order.
func (r *Resolver) Baseline(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return r.rankOf(out[i]) < r.rankOf(out[j])
	})
	return out
}

func (r *Resolver) rankOf(ev model.Event) int {
	if ev.IsBlank() {
		return -1
	}
	if i, ok := r.rank[ev.Entity]; ok {
		return i
	}
	// Events from undeclared entities stack above declared ones.
	return len(r.rank)
}

// Hide removes every event matched by the hide criteria of any present
// event. For each event E whose name carries hide criteria, every other
// event matching any of those criteria is marked; removal is the set union
// across all triggering events, applied after the full scan, so an event
// marked once is dropped no matter how many rules imply it. This pass must
// run before ordering.
func (r *Resolver) Hide(events []model.Event) []model.Event {
	if len(r.hide) == 0 {
		return events
	}

	removed := make([]bool, len(events))
	for i, ev := range events {
		crits := r.hide[ev.Name]
		if len(crits) == 0 {
			continue
		}
		for j := range events {
			if j == i {
				continue
			}
			if model.MatchesAny(crits, events[j]) {
				removed[j] = true
			}
		}
	}

	out := make([]model.Event, 0, len(events))
	for i, ev := range events {
		if !removed[i] {
			out = append(out, ev)
		}
	}
	return out
}

// Order applies the under/over directives to a baseline-ordered list.
//
// An event E carrying `under` criteria renders beneath every matching
// event: each match is relocated to sit immediately above E. `over` is
// symmetric: matches are relocated immediately beneath E. Matches are
// detected against the original unmodified list, so criteria evaluation is
// insensitive to relocations made earlier in the same pass; only the moves
// touch the working order. `under` directives are processed in forward
// index order and `over` in reverse, which fixes the outcome when several
// directives compete for the same pair. A directive with zero matches is a
// no-op.
func (r *Resolver) Order(events []model.Event) []model.Event {
	n := len(events)
	if n < 2 || (len(r.under) == 0 && len(r.over) == 0) {
		return events
	}

	// pos holds original indices in render order; moves operate on
	// positions, never on the events themselves.
	pos := make([]int, n)
	for i := range pos {
		pos[i] = i
	}

	find := func(orig int) int {
		for k, v := range pos {
			if v == orig {
				return k
			}
		}
		return -1
	}

	// relocate moves original index target to sit immediately after
	// (above) or before (beneath) original index anchor.
	relocate := func(target, anchor int, above bool) {
		ti := find(target)
		pos = append(pos[:ti], pos[ti+1:]...)
		at := find(anchor)
		if above {
			at++
		}
		pos = append(pos, 0)
		copy(pos[at+1:], pos[at:])
		pos[at] = target
	}

	for i := 0; i < n; i++ {
		crits := r.under[events[i].Name]
		if len(crits) == 0 {
			continue
		}
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if model.MatchesAny(crits, events[j]) {
				relocate(j, i, true)
			}
		}
	}

	for i := n - 1; i >= 0; i-- {
		crits := r.over[events[i].Name]
		if len(crits) == 0 {
			continue
		}
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if model.MatchesAny(crits, events[j]) {
				relocate(j, i, false)
			}
		}
	}

	out := make([]model.Event, n)
	for k, v := range pos {
		out[k] = events[v]
	}
	return out
}
