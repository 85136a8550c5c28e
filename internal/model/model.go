package model

import "time"

// TypeBlank marks the synthetic placeholder event injected once per fetch
// cycle so that cells with no real event still carry an icon/background.
const TypeBlank = "blank"

// RawDate is the wire form of a calendar instant. Exactly one of DateTime
// (RFC3339, timed) or Date (YYYY-MM-DD, all-day) is set.
type RawDate struct {
	DateTime string `json:"dateTime,omitempty" yaml:"dateTime,omitempty"`
	Date     string `json:"date,omitempty" yaml:"date,omitempty"`
}

// RawEvent is a calendar event as received from a source, before
// normalization. It is discarded once an Event has been built from it.
type RawEvent struct {
	Start   RawDate `json:"start"`
	End     RawDate `json:"end"`
	Summary string  `json:"summary,omitempty"`
}

// Event is the normalized working unit of the layout engine.
//
// Start/End are absolute instants in the configured display timezone.
// Name is the logical identity used for hide/under/over matching and is
// distinct from the raw calendar summary. Events are immutable after
// construction; the ordering resolver only reorders references.
type Event struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Name    string `json:"name,omitempty"`
	Summary string `json:"summary,omitempty"`
	Type    string `json:"type,omitempty"`
	Entity  string `json:"entity,omitempty"`
	Filter  string `json:"filter,omitempty"`
	Icon    string `json:"icon,omitempty"`

	IsAllDay bool `json:"is_all_day,omitempty"`

	// ThemeValues maps style-variable names to values; opaque to layout.
	ThemeValues map[string]string `json:"theme_values,omitempty"`
}

// IsBlank reports whether this is the synthetic placeholder event.
func (e Event) IsBlank() bool {
	return e.Type == TypeBlank
}

// Criteria selects events by exact match on every field that is set.
// All set fields must match (a conjunction). A criteria with no fields
// set matches nothing; this empty-match policy is deliberate.
type Criteria struct {
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`
	Type   string `yaml:"type,omitempty" json:"type,omitempty"`
	Entity string `yaml:"entity,omitempty" json:"entity,omitempty"`
	Filter string `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// IsEmpty reports whether no fields are set.
func (c Criteria) IsEmpty() bool {
	return c.Name == "" && c.Type == "" && c.Entity == "" && c.Filter == ""
}

// Matches reports whether ev satisfies this criteria.
func (c Criteria) Matches(ev Event) bool {
	if c.IsEmpty() {
		return false
	}
	if c.Name != "" && c.Name != ev.Name {
		return false
	}
	if c.Type != "" && c.Type != ev.Type {
		return false
	}
	if c.Entity != "" && c.Entity != ev.Entity {
		return false
	}
	if c.Filter != "" && c.Filter != ev.Filter {
		return false
	}
	return true
}

// MatchesAny reports whether ev satisfies at least one of the criteria.
func MatchesAny(crits []Criteria, ev Event) bool {
	for _, c := range crits {
		if c.Matches(ev) {
			return true
		}
	}
	return false
}

// DayInfo describes one column of the grid. Date is local midnight in the
// display timezone. Created once per render cycle and discarded at the next.
type DayInfo struct {
	Date           time.Time `json:"date"`
	Label          string    `json:"label"`
	SecondaryLabel string    `json:"secondary_label,omitempty"`
	IsToday        bool      `json:"is_today"`
}
