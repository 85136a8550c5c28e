package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:ev-1\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART:20260826T090000Z\r\n" +
	"DTEND:20260826T100000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestFetch_ConditionalRequestUsesCache(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	feed := Feed{Entity: "cal.a", URL: srv.URL}

	first, err := f.Fetch(context.Background(), feed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.FromCache {
		t.Errorf("first fetch served from cache")
	}
	if string(first.Body) != sampleICS {
		t.Errorf("first body mismatch")
	}

	second, err := f.Fetch(context.Background(), feed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.FromCache {
		t.Errorf("304 response should serve the cached body")
	}
	if string(second.Body) != sampleICS {
		t.Errorf("cached body mismatch")
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 2 {
		t.Errorf("server hits = %d, want 2", hits)
	}
}

func TestFetch_FallsBackToCacheOnServerError(t *testing.T) {
	var mu sync.Mutex
	fail := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		failing := fail
		mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	feed := Feed{Entity: "cal.a", URL: srv.URL}

	if _, err := f.Fetch(context.Background(), feed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	fail = true
	mu.Unlock()

	res, err := f.Fetch(context.Background(), feed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.FromCache || string(res.Body) != sampleICS {
		t.Errorf("expected cached body on server error, got fromCache=%v", res.FromCache)
	}
}

func TestFetch_EmptyURL(t *testing.T) {
	f := NewFetcher(t.TempDir())
	if _, err := f.Fetch(context.Background(), Feed{Entity: "cal.a"}); err == nil {
		t.Errorf("expected error for empty URL")
	}
}

func TestParseICS_TimedEvent(t *testing.T) {
	events, err := parseICS(Feed{Entity: "cal.a"}, []byte(sampleICS))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.UID != "ev-1" || ev.Summary != "Standup" {
		t.Errorf("identity = %q/%q", ev.UID, ev.Summary)
	}
	if ev.AllDay {
		t.Errorf("AllDay = true for timed event")
	}
	wantStart := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", ev.Start, wantStart)
	}
	if got := ev.End.Sub(ev.Start); got != time.Hour {
		t.Errorf("duration = %v, want 1h", got)
	}
}

func TestParseICS_AllDayAndRecurrence(t *testing.T) {
	body := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:holiday\r\n" +
		"SUMMARY:Holiday\r\n" +
		"DTSTART;VALUE=DATE:20260826\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:daily\r\n" +
		"SUMMARY:Shift\r\n" +
		"DTSTART:20260824T090000Z\r\n" +
		"DTEND:20260824T100000Z\r\n" +
		"RRULE:FREQ=DAILY;COUNT=5\r\n" +
		"EXDATE:20260826T090000Z\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	events, err := parseICS(Feed{Entity: "cal.a"}, []byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	byUID := map[string]parsedEvent{}
	for _, ev := range events {
		byUID[ev.UID] = ev
	}

	holiday := byUID["holiday"]
	if !holiday.AllDay {
		t.Errorf("VALUE=DATE event not flagged all-day")
	}

	daily := byUID["daily"]
	if daily.RawRRule != "FREQ=DAILY;COUNT=5" {
		t.Errorf("rrule = %q", daily.RawRRule)
	}
	if len(daily.ExDates) != 1 {
		t.Fatalf("exdates = %d, want 1", len(daily.ExDates))
	}
	wantEx := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	if !daily.ExDates[0].Equal(wantEx) {
		t.Errorf("exdate = %v, want %v", daily.ExDates[0], wantEx)
	}
}

func TestParseICS_SkipsEventWithoutUID(t *testing.T) {
	body := strings.Replace(sampleICS, "UID:ev-1\r\n", "", 1)
	events, err := parseICS(Feed{Entity: "cal.a"}, []byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0 (UID is required)", len(events))
	}
}

func TestParseICS_EmptyBody(t *testing.T) {
	if _, err := parseICS(Feed{Entity: "cal.a"}, nil); err == nil {
		t.Errorf("expected error for empty body")
	}
}

func TestExpandWindow_SinglePassThrough(t *testing.T) {
	ev := parsedEvent{
		UID:     "one",
		Summary: "Standup",
		Start:   time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
	}
	ws := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	we := ws.AddDate(0, 0, 7)

	raws, err := expandWindow([]parsedEvent{ev}, ws, we, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("raws = %d, want 1", len(raws))
	}
	if raws[0].Start.DateTime != "2026-08-26T09:00:00Z" {
		t.Errorf("start = %q", raws[0].Start.DateTime)
	}
	if raws[0].Summary != "Standup" {
		t.Errorf("summary = %q", raws[0].Summary)
	}
}

func TestExpandWindow_OutsideRangeDropped(t *testing.T) {
	ev := parsedEvent{
		UID:   "one",
		Start: time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC),
	}
	ws := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	we := ws.AddDate(0, 0, 7)

	raws, err := expandWindow([]parsedEvent{ev}, ws, we, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raws) != 0 {
		t.Errorf("raws = %d, want 0", len(raws))
	}
}

func TestExpandWindow_RecurringWithExDate(t *testing.T) {
	ev := parsedEvent{
		UID:      "daily",
		Summary:  "Shift",
		Start:    time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY;COUNT=5",
		ExDates:  []time.Time{time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)},
	}
	ws := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	we := ws.AddDate(0, 0, 7)

	raws, err := expandWindow([]parsedEvent{ev}, ws, we, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Five daily occurrences minus the excluded one.
	if len(raws) != 4 {
		t.Fatalf("occurrences = %d, want 4", len(raws))
	}
	for _, raw := range raws {
		if raw.Start.DateTime == "2026-08-26T09:00:00Z" {
			t.Errorf("excluded occurrence still present")
		}
	}
}

func TestExpandWindow_RecurrenceOverride(t *testing.T) {
	base := parsedEvent{
		UID:      "daily",
		Summary:  "Shift",
		Start:    time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY;COUNT=3",
	}
	rid := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	override := parsedEvent{
		UID:        "daily",
		Summary:    "Shift (moved)",
		Start:      time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC),
		Recurrence: &rid,
		IsOverride: true,
	}
	ws := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	we := ws.AddDate(0, 0, 7)

	raws, err := expandWindow([]parsedEvent{base, override}, ws, we, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raws) != 3 {
		t.Fatalf("occurrences = %d, want 3", len(raws))
	}

	moved := 0
	for _, raw := range raws {
		if raw.Summary == "Shift (moved)" {
			moved++
			if raw.Start.DateTime != "2026-08-25T14:00:00Z" {
				t.Errorf("override start = %q, want 14:00", raw.Start.DateTime)
			}
		}
	}
	if moved != 1 {
		t.Errorf("override applied %d times, want 1", moved)
	}
}

func TestExpandWindow_AllDayRecurring(t *testing.T) {
	ev := parsedEvent{
		UID:      "holiday",
		Summary:  "Holiday",
		Start:    time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
		AllDay:   true,
		RawRRule: "FREQ=WEEKLY;COUNT=2",
	}
	ws := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	we := ws.AddDate(0, 0, 14)

	raws, err := expandWindow([]parsedEvent{ev}, ws, we, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("occurrences = %d, want 2", len(raws))
	}
	if raws[0].Start.Date == "" || raws[0].Start.DateTime != "" {
		t.Errorf("all-day occurrence not emitted as bare date: %+v", raws[0].Start)
	}
}

func TestExpandWindow_InvertedRange(t *testing.T) {
	ws := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	if _, err := expandWindow(nil, ws, ws.AddDate(0, 0, -1), time.UTC); err == nil {
		t.Errorf("expected error for inverted range")
	}
}
