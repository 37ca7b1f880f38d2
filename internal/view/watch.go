package view

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads r whenever a template in its directory changes, until ctx
// is cancelled. Bursts of events are coalesced into one reload. onReload
// (if non-nil) is called after each successful reload.
func Watch(ctx context.Context, r *Renderer, logger *slog.Logger, onReload func()) error {
	if r.Dir() == "" {
		return errors.New("view: watch: renderer uses embedded templates")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(r.Dir()); err != nil {
		return err
	}
	logger.Info("template watcher: started", slog.String("dir", r.Dir()))

	var (
		timer    *time.Timer
		reloadCh <-chan time.Time
	)
	scheduleReload := func() {
		if timer == nil {
			timer = time.NewTimer(reloadDebounce)
			reloadCh = timer.C
		} else {
			timer.Reset(reloadDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("template watcher: stopped")
			return nil

		case <-reloadCh:
			if err := r.Reload(); err != nil {
				logger.Warn("template watcher: reload failed", slog.String("error", err.Error()))
				continue
			}
			logger.Debug("template watcher: reloaded")
			if onReload != nil {
				onReload()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".tmpl" {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("template watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
