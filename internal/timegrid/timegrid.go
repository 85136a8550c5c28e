// Package timegrid provides the pure date utilities behind the grid: week
// start resolution, day column construction and hour label formatting.
package timegrid

import (
	"strings"
	"time"
	"unicode"

	"weekgrid/internal/model"
)

// PolicyToday is the week-start policy meaning "no shift".
const PolicyToday = "today"

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// WeekStartDate resolves the display week's first day. Policy is either
// "today" (no shift) or a weekday name, resolving to the most recent
// occurrence of that weekday on or before today. Unrecognized policy
// strings silently behave as "today".
func WeekStartDate(today time.Time, policy string) time.Time {
	target, ok := weekdayByName[strings.ToLower(policy)]
	if !ok {
		return today
	}
	diff := (int(today.Weekday()) - int(target) + 7) % 7
	return today.AddDate(0, 0, -diff)
}

// Days produces count consecutive DayInfo columns starting at the resolved
// week-start date. Labels are formatted with the given Go time layouts and
// the primary label's first character is capitalized. IsToday is computed by
// same-calendar-day comparison against now, not by index.
func Days(now time.Time, count int, policy, primaryLayout, secondaryLayout string) []model.DayInfo {
	if count <= 0 {
		return nil
	}
	if primaryLayout == "" {
		primaryLayout = "Monday"
	}

	start := Midnight(WeekStartDate(now, policy))

	days := make([]model.DayInfo, 0, count)
	for i := 0; i < count; i++ {
		date := start.AddDate(0, 0, i)
		day := model.DayInfo{
			Date:    date,
			Label:   capitalize(date.Format(primaryLayout)),
			IsToday: SameDay(date, now),
		}
		if secondaryLayout != "" {
			day.SecondaryLabel = capitalize(date.Format(secondaryLayout))
		}
		days = append(days, day)
	}
	return days
}

// Midnight returns local midnight of t's calendar day, in t's location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar day, after
// normalizing b into a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
