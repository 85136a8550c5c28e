// Package theme resolves which icon and which named style variables apply
// to an event, walking the configured priority chains.
package theme

import (
	"weekgrid/internal/config"
	"weekgrid/internal/model"
)

// Icon resolves the icon for an event. Priority, highest first:
//
//  1. event-instance icon override
//  2. type-specific default: blank_event / blank_all_day_event for the
//     synthetic placeholder, the root event default otherwise
//  3. legacy top-level default_icon
//  4. deprecated global icon fallback
//  5. the hardcoded "check-circle" glyph
func Icon(ev model.Event, cfg *config.CardConfig) string {
	if ev.Icon != "" {
		return ev.Icon
	}

	if ev.IsBlank() {
		if ev.IsAllDay {
			if cfg.BlankAllDayEvent != nil && cfg.BlankAllDayEvent.Icon != "" {
				return cfg.BlankAllDayEvent.Icon
			}
		} else if cfg.BlankEvent != nil && cfg.BlankEvent.Icon != "" {
			return cfg.BlankEvent.Icon
		}
	} else if cfg.Event != nil && cfg.Event.Icon != "" {
		return cfg.Event.Icon
	}

	if cfg.DefaultIcon != "" {
		return cfg.DefaultIcon
	}
	if cfg.Icon != "" {
		return cfg.Icon
	}
	return config.FallbackIcon
}

// Values resolves the named style variables for an event, restricted to the
// keys declared in the config's variable registry. Undeclared keys are
// ignored even when present on the event. Per key, the chain is: event
// override, then the type-specific default, then the registry's global
// default value (which may be empty, meaning no value).
func Values(ev model.Event, cfg *config.CardConfig) map[string]string {
	if len(cfg.ThemeVariables) == 0 {
		return nil
	}

	defaults := typeDefaults(ev, cfg)

	out := make(map[string]string, len(cfg.ThemeVariables))
	for key, global := range cfg.ThemeVariables {
		if v, ok := ev.ThemeValues[key]; ok && v != "" {
			out[key] = v
			continue
		}
		if defaults != nil {
			if v, ok := defaults.ThemeValues[key]; ok && v != "" {
				out[key] = v
				continue
			}
		}
		if global != "" {
			out[key] = global
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func typeDefaults(ev model.Event, cfg *config.CardConfig) *config.EventDefaults {
	if ev.IsBlank() {
		if ev.IsAllDay {
			return cfg.BlankAllDayEvent
		}
		return cfg.BlankEvent
	}
	return cfg.Event
}
