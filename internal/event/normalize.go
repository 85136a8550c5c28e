// Package event converts heterogeneous raw event records into the uniform
// normalized Event the layout engine works with.
package event

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"weekgrid/internal/config"
	appLog "weekgrid/internal/log"
	"weekgrid/internal/model"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLocal  = "2006-01-02T15:04:05"
	blankEventName = "blank"
)

// NormalizeDate resolves a RawDate into an absolute instant in the display
// location. A dateTime value is parsed and converted into loc; a bare date
// value is interpreted as local midnight of that calendar day in loc with
// no further shift, and reported as all-day. That presence-of-date rule is
// what distinguishes all-day events from timed ones.
func NormalizeDate(raw model.RawDate, loc *time.Location) (t time.Time, allDay bool, err error) {
	if loc == nil {
		loc = time.Local
	}

	switch {
	case raw.DateTime != "":
		t, err = time.Parse(time.RFC3339, raw.DateTime)
		if err != nil {
			// Offset-less timestamps are interpreted in the display zone.
			t, err = time.ParseInLocation(dateTimeLocal, raw.DateTime, loc)
		}
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse dateTime %q: %w", raw.DateTime, err)
		}
		return t.In(loc), false, nil

	case raw.Date != "":
		t, err = time.ParseInLocation(dateLayout, raw.Date, loc)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse date %q: %w", raw.Date, err)
		}
		return t, true, nil

	default:
		return time.Time{}, false, errors.New("raw date has neither dateTime nor date")
	}
}

// NormalizeEvent passes an already-normalized event through unchanged.
// Start/End are absolute instants and need no reinterpretation, so
// re-normalization is the identity.
func NormalizeEvent(ev model.Event, _ *time.Location) model.Event {
	return ev
}

// FromRaw builds a normalized Event from a raw record plus the entity
// config it was fetched for. The entity's identity fields (name, type,
// filter token, icon, theme values) are carried onto the event.
//
// Returns ok=false when the event is dropped by the entity's summary
// filter. An event whose end precedes its start is clamped to zero
// duration and logged rather than propagated; the layout engine never
// sees a negative duration.
func FromRaw(raw model.RawEvent, ent config.EntityConfig, loc *time.Location) (ev model.Event, ok bool, err error) {
	if ent.Filter != "" && !strings.Contains(raw.Summary, ent.Filter) {
		return model.Event{}, false, nil
	}

	start, startAllDay, err := NormalizeDate(raw.Start, loc)
	if err != nil {
		return model.Event{}, false, err
	}
	end, _, err := NormalizeDate(raw.End, loc)
	if err != nil {
		return model.Event{}, false, err
	}

	if end.Before(start) {
		appLog.Warn("event end precedes start; clamping to zero duration",
			"entity", ent.Entity, "summary", raw.Summary,
			"start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339))
		end = start
	}

	ev = model.Event{
		Start:       start,
		End:         end,
		Name:        ent.Name,
		Summary:     raw.Summary,
		Type:        ent.Type,
		Entity:      ent.Entity,
		Filter:      ent.Filter,
		Icon:        ent.Icon,
		IsAllDay:    startAllDay,
		ThemeValues: ent.ThemeValues,
	}
	return ev, true, nil
}

// Blank returns the synthetic placeholder event for one fetch cycle. It
// spans the whole fetched window so every cell has a bottom-of-stack
// occupant to hang the default icon/background on.
func Blank(windowStart, windowEnd time.Time) model.Event {
	return model.Event{
		Start: windowStart,
		End:   windowEnd,
		Name:  blankEventName,
		Type:  model.TypeBlank,
	}
}

// Sort orders events globally by start time (then end, then name). Results
// from concurrent per-entity fetches are flattened in completion order, so
// this resort is what makes a slow entity indistinguishable from a fast one
// once its events arrive.
func Sort(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		if !events[i].End.Equal(events[j].End) {
			return events[i].End.Before(events[j].End)
		}
		return events[i].Name < events[j].Name
	})
}
