package layout

import (
	"time"

	"weekgrid/internal/config"
	"weekgrid/internal/model"
	"weekgrid/internal/theme"
	"weekgrid/internal/timegrid"
)

// SubBlockGrain is the occlusion resolution: visible runs are computed on
// fixed 5-minute slices aligned to the absolute clock, not to the event.
const SubBlockGrain = 5 * time.Minute

// Run is one visible vertical sliver of an event block, as percentages of
// the cell.
type Run struct {
	TopPct    float64 `json:"top_pct"`
	HeightPct float64 `json:"height_pct"`
}

// Block is one positioned event within a cell.
//
// TopPct/HeightPct place the block as a fraction of the cell. The inner
// counter-scale (InnerTopPct/InnerHeightPct) lets content absolutely
// positioned inside the block cancel the outer scaling, so an icon stays
// cell-relative however thin the block's sliver is. Runs lists the slivers
// where the block is not occluded by a higher-stacked event.
type Block struct {
	Event model.Event `json:"event"`

	TopPct         float64 `json:"top_pct"`
	HeightPct      float64 `json:"height_pct"`
	InnerTopPct    float64 `json:"inner_top_pct"`
	InnerHeightPct float64 `json:"inner_height_pct"`

	Runs []Run `json:"runs"`

	ShowIcon bool   `json:"show_icon"`
	Icon     string `json:"icon,omitempty"`

	ThemeValues map[string]string `json:"theme_values,omitempty"`
}

// Cell is the layout of one day×hour cell (Hour == -1 for the all-day
// row). Blocks are in stacking order, last on top.
type Cell struct {
	Day  int `json:"day"`
	Hour int `json:"hour"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Blocks []Block `json:"blocks"`

	// Icon is the cell-container icon; set when the icon container is
	// "cell", or when the cell is empty and renders a blank placeholder.
	Icon string `json:"icon,omitempty"`
}

// HourRow labels one hour row of the grid.
type HourRow struct {
	Hour  int    `json:"hour"`
	Label string `json:"label"`
}

// NowMarker is the current-time indicator position, valid only as of the
// render instant.
type NowMarker struct {
	Valid  bool    `json:"valid"`
	Day    int     `json:"day"`
	Hour   int     `json:"hour"`
	TopPct float64 `json:"top_pct"`
}

// Grid is the full layout output for one render pass.
type Grid struct {
	Days      []model.DayInfo `json:"days"`
	Hours     []HourRow       `json:"hours"`
	Cells     [][]Cell        `json:"cells"` // indexed [day][hour row]
	AllDayRow []Cell          `json:"all_day_row,omitempty"`
	Now       NowMarker       `json:"now"`
}

// Engine computes grid layouts. It performs no I/O and never suspends: a
// layout is a pure function of (events, config, now).
type Engine struct {
	cfg *config.CardConfig
	res *Resolver
}

// NewEngine builds an Engine for the given config.
func NewEngine(cfg *config.CardConfig) *Engine {
	return &Engine{cfg: cfg, res: NewResolver(cfg.Entities)}
}

// Grid lays out the whole week: day columns from the week-start policy,
// hour rows from the configured range, one cell per (day, hour), plus the
// all-day row when configured. now is read once and used for both the
// today flag and the current-time indicator.
func (e *Engine) Grid(now time.Time, events []model.Event) *Grid {
	loc := e.cfg.Location()
	now = now.In(loc)

	days := timegrid.Days(now, e.cfg.Days, e.cfg.WeekStart, e.cfg.DayFormat, e.cfg.DaySecondaryFormat)

	hours := make([]HourRow, 0, e.cfg.EndHour-e.cfg.StartHour)
	for h := e.cfg.StartHour; h < e.cfg.EndHour; h++ {
		hours = append(hours, HourRow{Hour: h, Label: timegrid.FormatHour(h, e.cfg.HourFormat)})
	}

	g := &Grid{
		Days:  days,
		Hours: hours,
		Cells: make([][]Cell, len(days)),
	}

	for d, day := range days {
		g.Cells[d] = make([]Cell, 0, len(hours))
		for _, row := range hours {
			g.Cells[d] = append(g.Cells[d], e.Cell(d, day.Date, row.Hour, events))
		}
		if e.cfg.AllDay == config.AllDayRow {
			g.AllDayRow = append(g.AllDayRow, e.AllDayCell(d, day.Date, events))
		}
	}

	g.Now = e.nowMarker(now, days)
	return g
}

// Cell lays out a single hourly cell. Steps, strictly ordered: candidate
// filtering by half-open interval intersection, the hide pass, all-day
// exclusion, the under/over ordering pass, then geometry and sub-block
// occlusion. A cell with zero candidates renders as an empty cell with a
// blank placeholder icon; it is never an error.
func (e *Engine) Cell(dayIdx int, dayDate time.Time, hour int, events []model.Event) Cell {
	cellStart := dayDate.Add(time.Duration(hour) * time.Hour)
	cellEnd := cellStart.Add(time.Hour)

	candidates := e.res.Baseline(events)
	candidates = filterIntersecting(candidates, cellStart, cellEnd)
	candidates = e.res.Hide(candidates)
	if e.cfg.AllDay != config.AllDayHour {
		candidates = dropAllDay(candidates)
	}
	candidates = e.res.Order(candidates)

	cell := Cell{Day: dayIdx, Hour: hour, Start: cellStart, End: cellEnd}
	e.fillBlocks(&cell, candidates, false)
	return cell
}

// AllDayCell lays out one day's cell of the dedicated all-day row. Only
// all-day events are candidates; the cell spans the full calendar day.
func (e *Engine) AllDayCell(dayIdx int, dayDate time.Time, events []model.Event) Cell {
	cellStart := dayDate
	cellEnd := dayDate.AddDate(0, 0, 1)

	candidates := e.res.Baseline(events)
	candidates = filterIntersecting(candidates, cellStart, cellEnd)
	candidates = e.res.Hide(candidates)
	candidates = keepAllDay(candidates)
	candidates = e.res.Order(candidates)

	cell := Cell{Day: dayIdx, Hour: -1, Start: cellStart, End: cellEnd}
	e.fillBlocks(&cell, candidates, true)
	return cell
}

// filterIntersecting keeps events whose interval intersects the half-open
// cell window: an event ending exactly at cellStart or starting exactly at
// cellEnd does not occupy the cell.
func filterIntersecting(events []model.Event, cellStart, cellEnd time.Time) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if cellStart.Before(ev.End) && ev.Start.Before(cellEnd) {
			out = append(out, ev)
		}
	}
	return out
}

func dropAllDay(events []model.Event) []model.Event {
	out := events[:0:len(events)]
	for _, ev := range events {
		if !ev.IsAllDay {
			out = append(out, ev)
		}
	}
	return out
}

func keepAllDay(events []model.Event) []model.Event {
	out := events[:0:len(events)]
	for _, ev := range events {
		if ev.IsAllDay {
			out = append(out, ev)
		}
	}
	return out
}

// fillBlocks computes geometry, sub-block visibility and icons for an
// ordered candidate list.
func (e *Engine) fillBlocks(cell *Cell, ordered []model.Event, allDayRow bool) {
	if len(ordered) == 0 {
		// Empty cell: optionally a blank placeholder icon, per the same
		// icon matrix as occupied cells.
		placeholder := model.Event{Type: model.TypeBlank, IsAllDay: allDayRow}
		cell.Icon = theme.Icon(placeholder, e.cfg)
		return
	}

	cellDur := cell.End.Sub(cell.Start)
	topIdx := len(ordered) - 1

	for i, ev := range ordered {
		start := maxTime(cell.Start, ev.Start)
		end := minTime(cell.End, ev.End)
		if !start.Before(end) {
			continue
		}

		startRatio := float64(start.Sub(cell.Start)) / float64(cellDur)
		heightRatio := float64(end.Sub(start)) / float64(cellDur)

		block := Block{
			Event:          ev,
			TopPct:         startRatio * 100,
			HeightPct:      heightRatio * 100,
			InnerHeightPct: 100 / heightRatio,
			InnerTopPct:    -(startRatio / heightRatio) * 100,
			Runs:           visibleRuns(ordered, i, cell.Start, cell.End),
			ThemeValues:    theme.Values(ev, e.cfg),
		}

		if e.cfg.IconContainer == config.IconContainerEvent {
			if e.cfg.IconMode == config.IconModeAll || i == topIdx {
				block.ShowIcon = true
				block.Icon = theme.Icon(ev, e.cfg)
			}
		}

		cell.Blocks = append(cell.Blocks, block)
	}

	if e.cfg.IconContainer == config.IconContainerCell && len(cell.Blocks) > 0 {
		top := cell.Blocks[len(cell.Blocks)-1]
		cell.Icon = theme.Icon(top.Event, e.cfg)
	}
}

// visibleRuns walks the 5-minute sub-blocks of the target event's on-screen
// extent and merges consecutive sub-blocks whose rendered topmost occupant
// is the target, producing the minimal ordered set of visible slivers.
// Wherever a higher-stacked event is active, the target contributes
// nothing for that sub-block.
func visibleRuns(ordered []model.Event, target int, cellStart, cellEnd time.Time) []Run {
	ev := ordered[target]
	start := maxTime(cellStart, ev.Start)
	end := minTime(cellEnd, ev.End)
	if !start.Before(end) {
		return nil
	}

	cellDur := cellEnd.Sub(cellStart)

	var runs []Run
	var runStart, runEnd time.Time
	active := false

	flush := func() {
		if !active {
			return
		}
		runs = append(runs, Run{
			TopPct:    float64(runStart.Sub(cellStart)) / float64(cellDur) * 100,
			HeightPct: float64(runEnd.Sub(runStart)) / float64(cellDur) * 100,
		})
		active = false
	}

	for t := start.Truncate(SubBlockGrain); t.Before(end); t = t.Add(SubBlockGrain) {
		s := maxTime(t, start)
		bEnd := minTime(t.Add(SubBlockGrain), end)

		// Topmost occupant of this sub-block: last in the ordered list
		// among events active during it.
		top := -1
		for k := len(ordered) - 1; k >= 0; k-- {
			if ordered[k].Start.Before(bEnd) && s.Before(ordered[k].End) {
				top = k
				break
			}
		}

		if top != target {
			flush()
			continue
		}
		if active && runEnd.Equal(s) {
			runEnd = bEnd
			continue
		}
		flush()
		runStart, runEnd, active = s, bEnd, true
	}
	flush()

	return runs
}

func (e *Engine) nowMarker(now time.Time, days []model.DayInfo) NowMarker {
	for d, day := range days {
		if !day.IsToday {
			continue
		}
		hour := now.Hour()
		if hour < e.cfg.StartHour || hour >= e.cfg.EndHour {
			return NowMarker{}
		}
		return NowMarker{
			Valid:  true,
			Day:    d,
			Hour:   hour,
			TopPct: float64(now.Minute()*60+now.Second()) / 3600 * 100,
		}
	}
	return NowMarker{}
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
