package source

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "weekgrid/internal/log"
)

// parsedEvent is the intermediate representation of a VEVENT before
// recurrence expansion.
type parsedEvent struct {
	Feed Feed

	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if present
	IsOverride bool
}

// parseICS parses a single ICS payload. Individual malformed VEVENTs are
// logged and skipped; they never fail the whole feed.
func parseICS(feed Feed, body []byte) ([]parsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]parsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(feed, comp)
		if perr != nil {
			appLog.Error("feed vevent parse failed", perr, "entity", feed.Entity)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("feed parse completed", "entity", feed.Entity, "event_count", len(events))
	return events, nil
}

func parseVEvent(feed Feed, ve *ical.VEvent) (parsedEvent, error) {
	var out parsedEvent
	out.Feed = feed

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	// All-day when DTSTART carries VALUE=DATE or a date-only value.
	if dtStart := ve.GetProperty(ical.ComponentPropertyDtStart); dtStart != nil {
		if params := dtStart.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.AllDay = true
			}
		}
		if !strings.Contains(dtStart.Value, "T") {
			out.AllDay = true
		}
	}

	if out.AllDay {
		start, _ := ve.GetAllDayStartAt()
		end, _ := ve.GetAllDayEndAt()
		out.Start = start
		out.End = end
		if out.End.IsZero() && !out.Start.IsZero() {
			out.End = out.Start.Add(24 * time.Hour)
		}
	} else {
		start, _ := ve.GetStartAt()
		end, _ := ve.GetEndAt()
		out.Start = start
		out.End = end
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE may appear multiple times, each with a comma-joined value.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, err := parseICSTime(ridProp.Value); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// parseICSTime parses basic ICS DATE / DATE-TIME / UTC forms. Used for
// EXDATE and RECURRENCE-ID values where full parameter context is not
// available; expansion aligns locations later.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	return time.ParseInLocation("20060102", v, time.Local)
}
