package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"genesis/internal/config"
	"genesis/internal/logging"
	"genesis/internal/store"
)

// Aggregator periodically rebuilds the daily_stats rows. Recomputing a date
// is idempotent, so the loop recomputes today plus a trailing window to pick
// up items that finished after midnight.
type Aggregator struct {
	store    *store.Store
	logger   *slog.Logger
	interval time.Duration
	lookback int
}

// New builds an aggregator from the stats config section.
func New(st *store.Store, cfg config.Stats, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := time.Duration(cfg.Interval) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	lookback := cfg.LookbackDays
	if lookback < 0 {
		lookback = 0
	}
	return &Aggregator{
		store:    st,
		logger:   logging.NewComponentLogger(logger, "stats"),
		interval: interval,
		lookback: lookback,
	}
}

// Run recomputes on the configured interval until the context ends. One pass
// runs immediately at startup.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	if err := a.RunOnce(ctx); err != nil {
		a.logger.Error("stats pass failed", logging.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Error("stats pass failed", logging.Error(err))
			}
		}
	}
}

// RunOnce recomputes today and the lookback window.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	now := time.Now()
	for offset := 0; offset <= a.lookback; offset++ {
		date := store.StatsDate(now.AddDate(0, 0, -offset))
		if _, err := a.store.RecomputeDailyStats(ctx, date); err != nil {
			return fmt.Errorf("recompute %s: %w", date, err)
		}
	}
	a.logger.Debug("daily stats recomputed",
		logging.String("date", store.StatsDate(now)),
		logging.Int("lookback_days", a.lookback))
	return nil
}
