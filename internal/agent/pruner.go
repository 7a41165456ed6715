package agent

import (
	"context"
	"log/slog"
	"time"
)

// Pruner is the store capability the pruner needs.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// RetentionConfig configures periodic pruning of the annotation log.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration
	Logger        *slog.Logger
}

// Retention prunes the annotation log on a ticker.
type Retention struct {
	store     Pruner
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

func NewRetention(cfg RetentionConfig, store Pruner) *Retention {
	interval := cfg.Interval
	if interval < time.Minute {
		interval = 6 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retention{
		store:     store,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    cfg.Logger,
	}
}

// Start prunes once, then on every tick. Blocks until ctx is cancelled.
// A zero retention keeps everything.
func (r *Retention) Start(ctx context.Context) {
	if r.retention <= 0 || r.store == nil {
		return
	}
	r.logger.Info("retention started", "retention", r.retention, "interval", r.interval)

	r.prune(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("retention stopped")
			return
		case <-ticker.C:
			r.prune(ctx)
		}
	}
}

func (r *Retention) prune(ctx context.Context) {
	n, err := r.store.Prune(ctx, r.retention)
	if err != nil {
		r.logger.Warn("prune failed", "err", err)
		return
	}
	r.logger.Debug("prune done", "removed", n)
}
