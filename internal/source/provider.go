package source

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"weekgrid/internal/config"
	"weekgrid/internal/event"
	appLog "weekgrid/internal/log"
	"weekgrid/internal/model"
)

// DefaultThrottle is the minimum interval between fetch cycles; renders
// inside the window reuse the cached event set.
const DefaultThrottle = 60 * time.Second

// FetchFunc returns the raw events of one entity within a window.
type FetchFunc func(ctx context.Context, ent config.EntityConfig, windowStart, windowEnd time.Time) ([]model.RawEvent, error)

// Provider coordinates event acquisition for all configured entities.
//
// Per-entity fetches run in parallel with no cross-entity ordering
// guarantee; results are flattened after all complete and globally
// resorted, so a slow entity does not desynchronize cell content once it
// arrives. A failed entity contributes zero events for the cycle and never
// aborts the others. Each cycle is stamped with a generation counter:
// results of a cycle that was superseded while in flight are discarded
// instead of overwriting newer data.
type Provider struct {
	cfg      *config.CardConfig
	fetch    FetchFunc
	throttle time.Duration

	mu        sync.Mutex
	events    []model.Event
	lastFetch time.Time
	fetched   bool

	generation atomic.Uint64
}

// NewProvider builds a Provider backed by the ICS fetch/parse/expand
// pipeline. The entity's URL field names its ICS endpoint; when empty the
// entity ref itself is used.
func NewProvider(cfg *config.CardConfig, cacheDir string) *Provider {
	fetcher := NewFetcher(cacheDir)
	p := &Provider{cfg: cfg, throttle: DefaultThrottle}
	p.fetch = func(ctx context.Context, ent config.EntityConfig, start, end time.Time) ([]model.RawEvent, error) {
		url := ent.URL
		if url == "" {
			url = ent.Entity
		}
		feed := Feed{Entity: ent.Entity, URL: url}

		res, err := fetcher.Fetch(ctx, feed)
		if err != nil {
			return nil, err
		}
		parsed, err := parseICS(feed, res.Body)
		if err != nil {
			return nil, err
		}
		return expandWindow(parsed, start, end, cfg.Location())
	}
	return p
}

// NewProviderWithFetch builds a Provider over a custom fetch function.
func NewProviderWithFetch(cfg *config.CardConfig, fetch FetchFunc) *Provider {
	return &Provider{cfg: cfg, fetch: fetch, throttle: DefaultThrottle}
}

// SetThrottle overrides the minimum refetch interval.
func (p *Provider) SetThrottle(d time.Duration) {
	p.throttle = d
}

// Events returns the normalized event set for the window, fetching lazily
// on first use and at most once per throttle interval afterwards.
func (p *Provider) Events(ctx context.Context, windowStart, windowEnd time.Time) []model.Event {
	p.mu.Lock()
	fresh := p.fetched && time.Since(p.lastFetch) < p.throttle
	cached := p.events
	p.mu.Unlock()

	if fresh {
		return cached
	}
	if err := p.Refresh(ctx, windowStart, windowEnd); err != nil {
		appLog.Error("refresh failed; serving previous events", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events
}

// Refresh runs one full fetch cycle: all entities in parallel, normalize,
// inject the blank placeholder event spanning the window, sort globally,
// then publish unless a newer cycle has started meanwhile.
func (p *Provider) Refresh(ctx context.Context, windowStart, windowEnd time.Time) error {
	gen := p.generation.Add(1)
	loc := p.cfg.Location()
	entities := p.cfg.Entities

	results := make([][]model.Event, len(entities))

	g, gctx := errgroup.WithContext(ctx)
	for i, ent := range entities {
		i, ent := i, ent
		g.Go(func() error {
			raws, err := p.fetch(gctx, ent, windowStart, windowEnd)
			if err != nil {
				// Isolated failure: this entity contributes zero events.
				appLog.Error("entity fetch failed", err, "entity", ent.Entity)
				return nil
			}
			evs := make([]model.Event, 0, len(raws))
			for _, raw := range raws {
				ev, ok, convErr := event.FromRaw(raw, ent, loc)
				if convErr != nil {
					appLog.Warn("dropping malformed raw event", "entity", ent.Entity, "err", convErr)
					continue
				}
				if ok {
					evs = append(evs, ev)
				}
			}
			results[i] = evs
			return nil
		})
	}
	err := g.Wait()

	flat := make([]model.Event, 0)
	for _, evs := range results {
		flat = append(flat, evs...)
	}
	flat = append(flat, event.Blank(windowStart, windowEnd))
	event.Sort(flat)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation.Load() != gen {
		appLog.Warn("discarding results of superseded fetch cycle", "generation", gen)
		return nil
	}
	p.events = flat
	p.lastFetch = time.Now()
	p.fetched = true
	return err
}
