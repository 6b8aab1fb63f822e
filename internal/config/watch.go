package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads cfgPath whenever it changes on disk and invokes onReload
// with the freshly-loaded Config. Runs until ctx is cancelled. A reload
// that fails to parse is logged and skipped — the previous in-memory
// config stays in effect, matching spec.md §7's "config error: salvage by
// backing up and writing defaults" intent applied to the hot-reload path
// (the stale config is a safer fallback than crashing the running process).
func Watch(ctx context.Context, cfgPath string, onReload func(*Config), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(cfgPath); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var lastHash string
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(cfgPath)
				if err != nil {
					logger.Warn("config hot-reload: failed to parse, keeping previous config", "err", err)
					continue
				}
				hash := cfg.Hash()
				if hash == lastHash {
					continue
				}
				lastHash = hash
				logger.Info("config reloaded", "path", cfgPath)
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "err", err)
			}
		}
	}()

	return nil
}
