// Package retention runs the background JobStore.DeleteExpired sweep
// Open Question 9(c) calls for. Grounded on raito's
// internal/jobs/runner.go Start loop, which interleaves a periodic
// CleanupExpiredData call with its own polling ticker — narrowed here
// into a standalone ticker loop since Sitebookify's dispatch is push-
// based and has no polling loop of its own to piggyback on.
package retention

import (
	"context"
	"log/slog"
	"time"

	"sitebookify/internal/config"
	"sitebookify/internal/store"
)

// Run sweeps expired terminal jobs from jobStore on cfg.Retention's
// interval until ctx is canceled. Intended to run in its own goroutine
// for the lifetime of the owning process.
func Run(ctx context.Context, cfg *config.Config, jobStore store.JobStore, logger *slog.Logger) {
	if !cfg.Retention.Enabled {
		return
	}

	interval := time.Duration(cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ttl := cfg.JobTTL()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := jobStore.DeleteExpired(ctx, time.Now().UTC(), ttl)
		if err != nil {
			if logger != nil {
				logger.Warn("retention sweep failed", "error", err)
			}
			continue
		}
		if n > 0 && logger != nil {
			logger.Info("retention sweep", "jobs_deleted", n)
		}
	}
}
