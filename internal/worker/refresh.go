// Package worker runs background jobs that keep caches of external data fresh.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Refresher reloads a cache.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshWorker periodically refreshes the external data cache.
type RefreshWorker struct {
	refresher Refresher
	interval  time.Duration
}

// NewRefreshWorker creates a new RefreshWorker.
func NewRefreshWorker(refresher Refresher, interval time.Duration) *RefreshWorker {
	return &RefreshWorker{
		refresher: refresher,
		interval:  interval,
	}
}

// Run starts the refresh loop. It blocks until the context is cancelled.
func (w *RefreshWorker) Run(ctx context.Context) {
	slog.Info("RefreshWorker: starting", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("RefreshWorker: shutting down")
			return
		case <-ticker.C:
			if err := w.refresher.Refresh(ctx); err != nil {
				slog.Error("RefreshWorker: refresh failed", "error", err)
			} else {
				slog.Debug("RefreshWorker: refresh completed")
			}
		}
	}
}
