package main

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/blueberrycongee/dinescout/internal/metrics"
)

type dbStatsProvider interface {
	DBStats() sql.DBStats
}

// startDBPoolMetrics publishes the job store pool stats now and then every interval.
// The returned func stops the loop; it is nil when there is nothing to watch.
func startDBPoolMetrics(ctx context.Context, provider dbStatsProvider, logger *slog.Logger, interval time.Duration) func() {
	if provider == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	metrics.UpdateDBPoolStats(provider.DBStats())

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.UpdateDBPoolStats(provider.DBStats())
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Debug("job store pool metrics started", "interval", interval.String())
	return cancel
}
