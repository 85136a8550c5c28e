package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"weekgrid/internal/model"
)

// NOTE: This file provides the card configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Every field the layout engine reads has a documented default
// applied by Normalize, so a partially-filled config is never fatal; the
// only hard error is Validate (entities list is required), raised at setup
// time, never at render time.

// All-day placement modes.
const (
	AllDayRow  = "row"  // all-day events go into a dedicated full-day row
	AllDayHour = "hour" // all-day events also occupy hourly cells
	AllDayHide = "hide" // all-day events are not rendered
)

// Icon container / mode axes.
const (
	IconContainerEvent = "event" // icon anchored per event block
	IconContainerCell  = "cell"  // one icon per cell
	IconModeTop        = "top"   // only the topmost event gets an icon
	IconModeAll        = "all"   // every event gets an icon
)

// FallbackIcon is the hardcoded end of the icon resolution chain.
const FallbackIcon = "check-circle"

// CriteriaList is a list of event-matching criteria. In YAML each item may
// be either a mapping or a bare string, the string being shorthand for
// {name: value}.
type CriteriaList []model.Criteria

// UnmarshalYAML decodes the string-or-mapping item union.
func (l *CriteriaList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: criteria list must be a sequence", node.Line)
	}
	out := make(CriteriaList, 0, len(node.Content))
	for _, item := range node.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, model.Criteria{Name: item.Value})
		case yaml.MappingNode:
			var c model.Criteria
			if err := item.Decode(&c); err != nil {
				return err
			}
			out = append(out, c)
		default:
			return fmt.Errorf("line %d: criteria item must be a string or mapping", item.Line)
		}
	}
	*l = out
	return nil
}

// EntityConfig describes one configured event source. In YAML an entity list
// item may be a bare string (shorthand for {entity: value}) or a mapping;
// the shorthand is resolved here once so that every downstream lookup sees
// the object form.
type EntityConfig struct {
	// Entity is the source reference (required).
	Entity string `yaml:"entity" json:"entity"`
	// URL is the ICS endpoint for this entity. If empty, Entity itself is
	// used as the URL.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Name is the logical identity stamped on this entity's events; hide
	// and under/over directives are keyed by it.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Type is a free-form tag stamped on this entity's events.
	Type string `yaml:"type,omitempty" json:"type,omitempty"`
	// Filter keeps only events whose summary contains this substring; the
	// token is also carried through on the event for selector use.
	Filter string `yaml:"filter,omitempty" json:"filter,omitempty"`
	// Icon overrides the icon for this entity's events.
	Icon string `yaml:"icon,omitempty" json:"icon,omitempty"`
	// ThemeValues are style-variable overrides for this entity's events.
	ThemeValues map[string]string `yaml:"theme_values,omitempty" json:"theme_values,omitempty"`

	// Hide removes matching events from any cell where one of this
	// entity's events is present.
	Hide CriteriaList `yaml:"hide,omitempty" json:"hide,omitempty"`
	// Under relocates matching events immediately beneath this entity's
	// events in stacking order; Over is the symmetric directive.
	Under CriteriaList `yaml:"under,omitempty" json:"under,omitempty"`
	Over  CriteriaList `yaml:"over,omitempty" json:"over,omitempty"`
}

// UnmarshalYAML decodes the string-or-mapping entity union.
func (e *EntityConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*e = EntityConfig{Entity: node.Value}
		return nil
	}
	type plain EntityConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = EntityConfig(p)
	return nil
}

// Validate validates a single entity config.
func (e *EntityConfig) Validate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.Entity, validation.Required),
	)
}

// HourFormat selects how hour labels are produced. In YAML it may be a bare
// string (legacy token pattern: H/HH/h/hh/m/mm/a/A) or a mapping with
// structured options; the runtime mode is chosen by which form was given.
type HourFormat struct {
	// Pattern is the legacy token pattern; non-empty means pattern mode.
	Pattern string `yaml:"-" json:"pattern,omitempty"`

	// Structured options, mirroring locale hour/minute formatting.
	Hour   string `yaml:"hour,omitempty" json:"hour,omitempty"`     // "numeric" or "2-digit"
	Minute string `yaml:"minute,omitempty" json:"minute,omitempty"` // "numeric" or "2-digit"
	Hour12 *bool  `yaml:"hour12,omitempty" json:"hour12,omitempty"`
}

// UnmarshalYAML decodes the string-or-mapping format union.
func (h *HourFormat) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*h = HourFormat{Pattern: node.Value}
		return nil
	}
	type plain HourFormat
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*h = HourFormat(p)
	return nil
}

// MarshalYAML re-emits the shorthand form for pattern mode.
func (h HourFormat) MarshalYAML() (any, error) {
	if h.Pattern != "" {
		return h.Pattern, nil
	}
	type plain HourFormat
	return plain(h), nil
}

// EventDefaults holds per-type default icon and theme values. The keys
// "event", "blank_event" and "blank_all_day_event" are recognized.
type EventDefaults struct {
	Icon        string            `yaml:"icon,omitempty" json:"icon,omitempty"`
	ThemeValues map[string]string `yaml:"theme_values,omitempty" json:"theme_values,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CardConfig is the top-level card configuration. It is constructed by the
// editor or loaded from YAML, passed whole into each render, and never
// mutated by the layout engine.
type CardConfig struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA display timezone (e.g. "Europe/Berlin").
	// Empty means the process-local zone.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`

	// WeekStart is "today" or a lowercase weekday name. Unrecognized
	// values silently behave as "today".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule for background refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Days is the number of day columns.
	Days int `yaml:"days" json:"days"`

	// StartHour/EndHour bound the hour rows; [StartHour, EndHour).
	StartHour int `yaml:"start_hour" json:"start_hour"`
	EndHour   int `yaml:"end_hour" json:"end_hour"`

	// AllDay controls all-day event placement: "row", "hour" or "hide".
	AllDay string `yaml:"all_day" json:"all_day"`

	// HourFormat selects hour label formatting; nil means structured
	// defaults (2-digit hour and minute, 24h clock).
	HourFormat *HourFormat `yaml:"hour_format,omitempty" json:"hour_format,omitempty"`

	// DayFormat / DaySecondaryFormat are Go time layouts for day labels.
	DayFormat          string `yaml:"day_format" json:"day_format"`
	DaySecondaryFormat string `yaml:"day_secondary_format,omitempty" json:"day_secondary_format,omitempty"`

	// IconContainer is "event" or "cell"; IconMode is "top" or "all".
	IconContainer string `yaml:"icon_container" json:"icon_container"`
	IconMode      string `yaml:"icon_mode" json:"icon_mode"`

	// Entities is the list of event sources, in declaration (stacking)
	// order: later entries render on top by default.
	Entities []EntityConfig `yaml:"entities" json:"entities"`

	// Per-type defaults for icon/theme resolution.
	Event            *EventDefaults `yaml:"event,omitempty" json:"event,omitempty"`
	BlankEvent       *EventDefaults `yaml:"blank_event,omitempty" json:"blank_event,omitempty"`
	BlankAllDayEvent *EventDefaults `yaml:"blank_all_day_event,omitempty" json:"blank_all_day_event,omitempty"`

	// DefaultIcon is the legacy top-level icon field, consulted after the
	// per-type defaults. Icon is the deprecated global fallback below it.
	DefaultIcon string `yaml:"default_icon,omitempty" json:"default_icon,omitempty"`
	Icon        string `yaml:"icon,omitempty" json:"icon,omitempty"`

	// ThemeVariables is the registry of declared style-variable names and
	// their global default values. Keys not declared here are ignored
	// wherever theme values are resolved.
	ThemeVariables map[string]string `yaml:"theme_variables,omitempty" json:"theme_variables,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *CardConfig {
	return &CardConfig{
		Listen:        "127.0.0.1:8080",
		WeekStart:     "today",
		RefreshCron:   "*/15 * * * *",
		Days:          7,
		StartHour:     0,
		EndHour:       24,
		AllDay:        AllDayRow,
		DayFormat:     "Monday",
		IconContainer: IconContainerEvent,
		IconMode:      IconModeTop,
		Entities:      []EntityConfig{},
	}
}

// Normalize fills in missing/zero values with the documented defaults so
// that partially-filled configs still behave correctly.
func (c *CardConfig) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.WeekStart == "" {
		c.WeekStart = "today"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.Days <= 0 {
		c.Days = 7
	}
	if c.StartHour < 0 {
		c.StartHour = 0
	}
	if c.EndHour <= c.StartHour || c.EndHour > 24 {
		c.EndHour = 24
	}
	switch c.AllDay {
	case AllDayRow, AllDayHour, AllDayHide:
	default:
		c.AllDay = AllDayRow
	}
	if c.DayFormat == "" {
		c.DayFormat = "Monday"
	}
	switch c.IconContainer {
	case IconContainerEvent, IconContainerCell:
	default:
		c.IconContainer = IconContainerEvent
	}
	switch c.IconMode {
	case IconModeTop, IconModeAll:
	default:
		c.IconMode = IconModeTop
	}
	if c.Entities == nil {
		c.Entities = []EntityConfig{}
	}
}

// Validate is the one hard precondition check of the system. It runs at
// setup time only; render-time config reads always fall back to defaults.
func (c *CardConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Entities, validation.Required.Error("entities list is required")),
		validation.Field(&c.StartHour, validation.Min(0), validation.Max(23)),
		validation.Field(&c.EndHour, validation.Min(1), validation.Max(24)),
	); err != nil {
		return err
	}
	for i := range c.Entities {
		if err := c.Entities[i].Validate(); err != nil {
			return fmt.Errorf("entities[%d]: %w", i, err)
		}
	}
	return nil
}

// Location resolves the configured display timezone, falling back to the
// process-local zone on any failure.
func (c *CardConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// EntityByName returns the entity config whose Name matches, if any.
func (c *CardConfig) EntityByName(name string) (EntityConfig, bool) {
	if name == "" {
		return EntityConfig{}, false
	}
	for _, ent := range c.Entities {
		if ent.Name == name {
			return ent, true
		}
	}
	return EntityConfig{}, false
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory if needed, write a
//     default config with 0600 perms, and return the default config.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
func Load(path string) (*CardConfig, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Return cfg with the error so the caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg CardConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration to the given path atomically (temp file +
// rename) with 0600 permissions, creating the parent directory if needed.
func Save(path string, cfg *CardConfig) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".weekgrid-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *CardConfig) Save(path string) error {
	return Save(path, c)
}
