package web

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"weekgrid/internal/config"
	appLog "weekgrid/internal/log"
)

// watchDebounce coalesces the write bursts editors produce when saving.
const watchDebounce = 250 * time.Millisecond

// WatchConfig reloads the card config whenever the file changes on disk
// and applies it to the server, which broadcasts a config-changed event.
// The parent directory is watched, not the file itself, because editors
// and the atomic Save both replace the file by rename.
func (s *Server) WatchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.cfgPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		reload := func() {
			cfg, err := config.Load(s.cfgPath)
			if err != nil {
				appLog.Error("config reload failed", err, "path", s.cfgPath)
				return
			}
			s.ApplyConfig(cfg)
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.cfgPath) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, reload)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				appLog.Error("config watcher error", err, "dir", dir)
			}
		}
	}()

	appLog.Info("watching config file", "path", s.cfgPath)
	return nil
}
