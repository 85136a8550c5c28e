package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/robfig/cron/v3"

	"weekgrid/internal/config"
	"weekgrid/internal/layout"
	appLog "weekgrid/internal/log"
	"weekgrid/internal/source"
	"weekgrid/internal/timegrid"
	"weekgrid/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	cacheDir   string
	once       bool
	debug      bool
}

func main() {
	appLog.Info("weekgrid starting", "version", "0.1.0")

	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"days", conf.Days,
		"hours", conf.EndHour-conf.StartHour,
		"all_day", conf.AllDay,
		"entity_count", len(conf.Entities),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	provider := source.NewProvider(conf, flags.cacheDir)

	if flags.once {
		if err := runOnce(ctx, conf, provider); err != nil {
			appLog.Error("single-shot render failed", err)
			os.Exit(1)
		}
		return
	}

	server := web.NewServer(conf, flags.configPath, flags.cacheDir, provider)
	defer server.Close()

	if err := server.WatchConfig(ctx); err != nil {
		appLog.Error("failed to start config watcher", err)
	}

	// Background refresh on the configured cron schedule, plus one warmup
	// cycle so the first grid request does not pay the fetch latency.
	sched := cron.New()
	if _, err := sched.AddFunc(conf.RefreshCron, func() { server.Refresh(ctx) }); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()
	go server.Refresh(ctx)

	httpServer := &http.Server{
		Addr:    conf.Listen,
		Handler: server.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("HTTP server failed", err)
		os.Exit(1)
	}

	appLog.Info("weekgrid exiting")
}

// runOnce renders one grid and writes it to stdout as JSON.
func runOnce(ctx context.Context, conf *config.CardConfig, provider *source.Provider) error {
	now := time.Now().In(conf.Location())

	windowStart := timegrid.Midnight(timegrid.WeekStartDate(now, conf.WeekStart))
	windowEnd := windowStart.AddDate(0, 0, conf.Days)
	events := provider.Events(ctx, windowStart, windowEnd)

	grid := layout.NewEngine(conf).Grid(now, events)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(grid)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/weekgrid/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.cacheDir, "cache-dir", "./cache/feed-cache", "Directory for the ICS feed cache")
	flag.BoolVar(&cfg.once, "once", false, "Render one grid to stdout as JSON and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
