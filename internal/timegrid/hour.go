package timegrid

import (
	"fmt"
	"regexp"
	"strings"

	"weekgrid/internal/config"
)

// hourTokens matches the legacy pattern tokens in a single alternation
// pass. Two-letter tokens come first so that e.g. "HH" is never consumed
// as two single-H tokens.
var hourTokens = regexp.MustCompile(`HH|hh|mm|H|h|m|A|a`)

// FormatHour renders the label for an hour row.
//
// Two modes, selected by the shape of the format spec:
//   - pattern mode (spec was a string): token substitution on the pattern,
//     with tokens H/HH (24h), h/hh (12h), m/mm (minutes, always zero for an
//     hour label) and a/A (meridiem);
//   - structured mode (spec was a mapping or absent): hour/minute/hour12
//     options applied to a synthetic time carrying only the hour. The
//     default is a 2-digit 24h clock with minutes ("09:00").
func FormatHour(hour int, spec *config.HourFormat) string {
	if spec != nil && spec.Pattern != "" {
		return formatHourPattern(hour, spec.Pattern)
	}
	return formatHourStructured(hour, spec)
}

func formatHourPattern(hour int, pattern string) string {
	h12, meridiem := twelveHour(hour)

	return hourTokens.ReplaceAllStringFunc(pattern, func(tok string) string {
		switch tok {
		case "HH":
			return fmt.Sprintf("%02d", hour)
		case "H":
			return fmt.Sprintf("%d", hour)
		case "hh":
			return fmt.Sprintf("%02d", h12)
		case "h":
			return fmt.Sprintf("%d", h12)
		case "mm":
			return "00"
		case "m":
			return "0"
		case "A":
			return meridiem
		case "a":
			return strings.ToLower(meridiem)
		}
		return tok
	})
}

func formatHourStructured(hour int, spec *config.HourFormat) string {
	// Absent spec: 2-digit hour and minute, 24h clock.
	hourStyle := "2-digit"
	minuteStyle := "2-digit"
	hour12 := false
	if spec != nil {
		if spec.Hour != "" {
			hourStyle = spec.Hour
		}
		minuteStyle = spec.Minute
		if spec.Hour12 != nil {
			hour12 = *spec.Hour12
		}
	}

	value := hour
	meridiem := ""
	if hour12 {
		value, meridiem = twelveHour(hour)
	}

	out := fmt.Sprintf("%d", value)
	if hourStyle == "2-digit" {
		out = fmt.Sprintf("%02d", value)
	}
	if minuteStyle != "" {
		out += ":00"
	}
	if meridiem != "" {
		out += " " + meridiem
	}
	return out
}

// twelveHour converts a 24h hour into its 12h value and meridiem.
func twelveHour(hour int) (int, string) {
	meridiem := "AM"
	if hour >= 12 {
		meridiem = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return h, meridiem
}
