// Package web serves the layout engine over HTTP: grid layout
// instructions, the day model, the card configuration (read and write for
// the visual editor), and an SSE stream of config-changed notifications.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"weekgrid/internal/config"
	"weekgrid/internal/layout"
	appLog "weekgrid/internal/log"
	"weekgrid/internal/source"
	"weekgrid/internal/timegrid"
)

// gridCacheTTL bounds how stale a served grid may be; the provider's own
// fetch throttle is much longer, this only absorbs request bursts.
const gridCacheTTL = 15 * time.Second

// Server provides the HTTP API around the layout engine.
type Server struct {
	cfgPath  string
	cacheDir string

	mu       sync.RWMutex
	cfg      *config.CardConfig
	provider *source.Provider
	engine   *layout.Engine

	broker *Broker

	gridMu    sync.Mutex
	gridCache *gridCache
}

type gridCache struct {
	grid      *layout.Grid
	updatedAt time.Time
}

// NewServer constructs a Server around a loaded config. cacheDir is handed
// to providers rebuilt on config changes.
func NewServer(cfg *config.CardConfig, cfgPath, cacheDir string, provider *source.Provider) *Server {
	return &Server{
		cfgPath:  cfgPath,
		cacheDir: cacheDir,
		cfg:      cfg,
		provider: provider,
		engine:   layout.NewEngine(cfg),
		broker:   NewBroker(),
	}
}

// Handler returns the routed http.Handler, wrapped in basic auth when
// credentials are configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/grid", s.handleGrid)
	r.Get("/api/days", s.handleDays)
	r.Get("/api/config", s.handleGetConfig)
	r.Put("/api/config", s.handlePutConfig)
	r.Get("/api/stream", s.broker.ServeHTTP)

	h := http.Handler(r)
	if s.basicAuthEnabled() {
		h = s.basicAuthMiddleware(h)
	}
	return h
}

// Config returns the current card config.
func (s *Server) Config() *config.CardConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Close shuts down the SSE broker.
func (s *Server) Close() {
	s.broker.Stop()
}

func (s *Server) basicAuthEnabled() bool {
	cfg := s.Config()
	if cfg == nil || cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password is treated as disabled.
	return cfg.BasicAuth.Username != "" && cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		auth := s.Config().BasicAuth
		u, p, ok := r.BasicAuth()
		if !ok || auth == nil || !secureCompare(u, auth.Username) || !secureCompare(p, auth.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="weekgrid", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleGrid returns the full grid layout for the configured window. The
// layout itself is a pure synchronous function; event acquisition behind
// it is throttled by the provider.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	s.gridMu.Lock()
	gc := s.gridCache
	s.gridMu.Unlock()
	if gc != nil && now.Sub(gc.updatedAt) < gridCacheTTL {
		writeJSON(w, http.StatusOK, gc.grid)
		return
	}

	grid := s.renderGrid(r.Context(), now)

	s.gridMu.Lock()
	s.gridCache = &gridCache{grid: grid, updatedAt: time.Now()}
	s.gridMu.Unlock()

	writeJSON(w, http.StatusOK, grid)
}

func (s *Server) renderGrid(ctx context.Context, now time.Time) *layout.Grid {
	s.mu.RLock()
	cfg := s.cfg
	provider := s.provider
	engine := s.engine
	s.mu.RUnlock()

	windowStart, windowEnd := window(cfg, now)
	events := provider.Events(ctx, windowStart, windowEnd)
	return engine.Grid(now, events)
}

func (s *Server) handleDays(w http.ResponseWriter, _ *http.Request) {
	cfg := s.Config()
	now := time.Now().In(cfg.Location())
	days := timegrid.Days(now, cfg.Days, cfg.WeekStart, cfg.DayFormat, cfg.DaySecondaryFormat)
	writeJSON(w, http.StatusOK, days)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Config())
}

// handlePutConfig is the editor's write path: validate, persist, swap the
// live config, and notify embedders through the stream.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.CardConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config payload: "+err.Error())
		return
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cfg.Save(s.cfgPath); err != nil {
		appLog.Error("config save failed", err, "path", s.cfgPath)
		writeError(w, http.StatusInternalServerError, "failed to save config")
		return
	}

	s.swapConfig(&cfg)
	writeJSON(w, http.StatusOK, &cfg)
}

// ApplyConfig swaps in an externally loaded config (e.g. after the watcher
// saw the file change on disk) and broadcasts the change. Invalid configs
// are logged and ignored; the previous config stays live.
func (s *Server) ApplyConfig(cfg *config.CardConfig) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		appLog.Error("ignoring invalid config", err, "path", s.cfgPath)
		return
	}
	s.swapConfig(cfg)
}

func (s *Server) swapConfig(cfg *config.CardConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.engine = layout.NewEngine(cfg)
	s.provider = source.NewProvider(cfg, s.cacheDir)
	s.mu.Unlock()

	s.gridMu.Lock()
	s.gridCache = nil
	s.gridMu.Unlock()

	appLog.Info("config applied", "entities", len(cfg.Entities), "days", cfg.Days)
	s.broker.Publish(StreamEvent{Type: "config.changed", Data: cfg})
}

// Refresh forces a fetch cycle (cron-driven) and notifies the stream.
func (s *Server) Refresh(ctx context.Context) {
	s.mu.RLock()
	cfg := s.cfg
	provider := s.provider
	s.mu.RUnlock()

	windowStart, windowEnd := window(cfg, time.Now())
	if err := provider.Refresh(ctx, windowStart, windowEnd); err != nil {
		appLog.Error("scheduled refresh failed", err)
		return
	}

	s.gridMu.Lock()
	s.gridCache = nil
	s.gridMu.Unlock()

	s.broker.Publish(StreamEvent{Type: "events.refreshed", Data: map[string]any{
		"at": time.Now().Format(time.RFC3339),
	}})
}

// window derives the fetch/render window from the config: the resolved
// week-start day through the configured day count.
func window(cfg *config.CardConfig, now time.Time) (time.Time, time.Time) {
	now = now.In(cfg.Location())
	start := timegrid.Midnight(timegrid.WeekStartDate(now, cfg.WeekStart))
	return start, start.AddDate(0, 0, cfg.Days)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
