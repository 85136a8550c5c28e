package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"weekgrid/internal/config"
	"weekgrid/internal/model"
)

func providerConfig() *config.CardConfig {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Entities = []config.EntityConfig{
		{Entity: "cal.a", Name: "A"},
		{Entity: "cal.b", Name: "B"},
	}
	return cfg
}

func window() (time.Time, time.Time) {
	ws := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	return ws, ws.AddDate(0, 0, 7)
}

func rawAt(summary string, hour int) model.RawEvent {
	start := time.Date(2026, 8, 26, hour, 0, 0, 0, time.UTC)
	return model.RawEvent{
		Summary: summary,
		Start:   model.RawDate{DateTime: start.Format(time.RFC3339)},
		End:     model.RawDate{DateTime: start.Add(time.Hour).Format(time.RFC3339)},
	}
}

func TestEvents_ThrottledSingleFetch(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	fetch := func(ctx context.Context, ent config.EntityConfig, ws, we time.Time) ([]model.RawEvent, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return []model.RawEvent{rawAt("ev-"+ent.Entity, 9)}, nil
	}

	p := NewProviderWithFetch(providerConfig(), fetch)
	ws, we := window()

	for i := 0; i < 3; i++ {
		if got := p.Events(context.Background(), ws, we); len(got) == 0 {
			t.Fatalf("call %d returned no events", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 { // one per entity, once
		t.Errorf("fetch calls = %d, want 2", calls)
	}
}

func TestRefresh_FailureIsolation(t *testing.T) {
	fetch := func(ctx context.Context, ent config.EntityConfig, ws, we time.Time) ([]model.RawEvent, error) {
		if ent.Entity == "cal.a" {
			return nil, errors.New("upstream gone")
		}
		return []model.RawEvent{rawAt("shift", 9)}, nil
	}

	p := NewProviderWithFetch(providerConfig(), fetch)
	ws, we := window()
	if err := p.Refresh(context.Background(), ws, we); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Events(context.Background(), ws, we)
	var real []model.Event
	for _, ev := range got {
		if !ev.IsBlank() {
			real = append(real, ev)
		}
	}
	if len(real) != 1 || real[0].Name != "B" {
		t.Errorf("events = %+v, want only B's event", real)
	}
}

func TestRefresh_InjectsSortedBlank(t *testing.T) {
	fetch := func(ctx context.Context, ent config.EntityConfig, ws, we time.Time) ([]model.RawEvent, error) {
		if ent.Entity != "cal.a" {
			return nil, nil
		}
		return []model.RawEvent{rawAt("late", 15), rawAt("early", 9)}, nil
	}

	p := NewProviderWithFetch(providerConfig(), fetch)
	ws, we := window()
	if err := p.Refresh(context.Background(), ws, we); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Events(context.Background(), ws, we)
	if len(got) != 3 {
		t.Fatalf("events = %d, want 2 real + 1 blank", len(got))
	}
	// The blank spans the whole window so it sorts first; the real events
	// follow in start order.
	if !got[0].IsBlank() || !got[0].Start.Equal(ws) || !got[0].End.Equal(we) {
		t.Errorf("events[0] = %+v, want window-spanning blank", got[0])
	}
	if got[1].Summary != "early" || got[2].Summary != "late" {
		t.Errorf("real events out of order: %q, %q", got[1].Summary, got[2].Summary)
	}
}

func TestRefresh_SupersededCycleDiscarded(t *testing.T) {
	cfg := providerConfig()
	cfg.Entities = cfg.Entities[:1]

	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	fetch := func(ctx context.Context, ent config.EntityConfig, ws, we time.Time) ([]model.RawEvent, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			// First cycle stalls until the second has published.
			<-release
			return []model.RawEvent{rawAt("stale", 9)}, nil
		}
		return []model.RawEvent{rawAt("fresh", 10)}, nil
	}

	p := NewProviderWithFetch(cfg, fetch)
	ws, we := window()

	done := make(chan error, 1)
	go func() { done <- p.Refresh(context.Background(), ws, we) }()

	// Wait for the first cycle to be in flight before starting the second.
	for {
		mu.Lock()
		started := calls >= 1
		mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := p.Refresh(context.Background(), ws, we); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Events(context.Background(), ws, we)
	for _, ev := range got {
		if ev.Summary == "stale" {
			t.Errorf("stale cycle overwrote newer data: %+v", got)
		}
	}
}

func TestRefresh_DropsMalformedRaw(t *testing.T) {
	fetch := func(ctx context.Context, ent config.EntityConfig, ws, we time.Time) ([]model.RawEvent, error) {
		if ent.Entity != "cal.a" {
			return nil, nil
		}
		return []model.RawEvent{
			{Summary: "broken"}, // no start/end
			rawAt("fine", 9),
		}, nil
	}

	p := NewProviderWithFetch(providerConfig(), fetch)
	ws, we := window()
	if err := p.Refresh(context.Background(), ws, we); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.Events(context.Background(), ws, we)
	for _, ev := range got {
		if ev.Summary == "broken" {
			t.Errorf("malformed raw event survived normalization")
		}
	}
	if len(got) != 2 { // fine + blank
		t.Errorf("events = %d, want 2", len(got))
	}
}
