package source

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "weekgrid/internal/log"
	"weekgrid/internal/model"
)

const maxOccurrencesPerEvent = 5000

// expandWindow expands parsed events into concrete raw records inside the
// [rangeStart, rangeEnd] window: single events pass through, RRULE events
// are expanded with EXDATE removal and RECURRENCE-ID overrides applied.
// Output instants are expressed in the display location, as wire-form
// RawEvents, so every occurrence goes through the same normalization path
// as any other raw record. All-day occurrences come out as bare dates.
func expandWindow(events []parsedEvent, rangeStart, rangeEnd time.Time, displayLoc *time.Location) ([]model.RawEvent, error) {
	if rangeEnd.Before(rangeStart) {
		return nil, errors.New("expand: range end is before range start")
	}
	if displayLoc == nil {
		displayLoc = time.Local
	}

	baseByUID := make(map[string][]parsedEvent)
	overridesByUID := make(map[string][]parsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	out := make([]model.RawEvent, 0, len(events))
	for uid, baseEvents := range baseByUID {
		overrides := overridesByUID[uid]
		for _, ev := range baseEvents {
			if ev.RawRRule == "" {
				out = append(out, expandSingle(ev, overrides, rangeStart, rangeEnd, displayLoc)...)
				continue
			}
			occs, truncated := expandRecurring(ev, overrides, rangeStart, rangeEnd, displayLoc)
			if truncated {
				appLog.Warn("expand: occurrence cap reached", "uid", uid, "cap", maxOccurrencesPerEvent)
			}
			out = append(out, occs...)
		}
	}
	return out, nil
}

func expandSingle(ev parsedEvent, overrides []parsedEvent, rangeStart, rangeEnd time.Time, loc *time.Location) []model.RawEvent {
	if ev.End.Before(rangeStart) || rangeEnd.Before(ev.Start) {
		return nil
	}
	start, end := ev.Start, ev.End
	if o, ok := findOverrideForStart(overrides, start); ok {
		ev = o
		start, end = o.Start, o.End
	}
	return []model.RawEvent{makeRaw(ev, start, end, loc)}
}

func expandRecurring(ev parsedEvent, overrides []parsedEvent, rangeStart, rangeEnd time.Time, loc *time.Location) ([]model.RawEvent, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	occTimes := set.Between(rangeStart.In(ev.Start.Location()), rangeEnd.In(ev.Start.Location()), true)

	hitCap := false
	if len(occTimes) > maxOccurrencesPerEvent {
		occTimes = occTimes[:maxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.RawEvent, 0, len(occTimes))
	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			// All-day: [date 00:00, next day 00:00) in the event's zone.
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occEnd = occStart.Add(24 * time.Hour)
		} else {
			occEnd = occStart.Add(ev.End.Sub(ev.Start))
		}

		base := ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			base = o
			occStart, occEnd = o.Start, o.End
		}
		out = append(out, makeRaw(base, occStart, occEnd, loc))
	}
	return out, hitCap
}

// findOverrideForStart finds an override whose RECURRENCE-ID equals the
// given occurrence start, compared in the occurrence's location.
func findOverrideForStart(overrides []parsedEvent, start time.Time) (parsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.In(start.Location()).Equal(start) {
			return ov, true
		}
	}
	return parsedEvent{}, false
}

// makeRaw converts one concrete occurrence into the wire form the
// normalizer consumes: bare dates for all-day, RFC3339 in the display
// location otherwise.
func makeRaw(ev parsedEvent, start, end time.Time, loc *time.Location) model.RawEvent {
	raw := model.RawEvent{Summary: ev.Summary}
	if ev.AllDay {
		raw.Start = model.RawDate{Date: start.In(loc).Format("2006-01-02")}
		raw.End = model.RawDate{Date: end.In(loc).Format("2006-01-02")}
	} else {
		raw.Start = model.RawDate{DateTime: start.In(loc).Format(time.RFC3339)}
		raw.End = model.RawDate{DateTime: end.In(loc).Format(time.RFC3339)}
	}
	return raw
}
