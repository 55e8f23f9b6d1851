package rules

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 150 * time.Millisecond

// Watch reloads engine whenever its rules file changes, until ctx is cancelled.
// The parent directory is watched so editors that replace the file are seen.
// onReload, if set, receives the result of every reload.
func Watch(ctx context.Context, engine *Engine, logger *slog.Logger, onReload func(error)) error {
	if engine.Path() == "" {
		<-ctx.Done()
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rules")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(engine.Path())
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			err := engine.Reload()
			if err != nil {
				logger.Warn("rules reload failed, keeping previous rules", "path", target, "error", err)
			} else {
				logger.Info("rules reloaded", "path", target, "rules", engine.Len())
			}
			if onReload != nil {
				onReload(err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("rules watcher error", "error", err)
		}
	}
}
