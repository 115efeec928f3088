package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Pruner deletes activity older than a cutoff.
type Pruner interface {
	PruneActivity(ctx context.Context, olderThan time.Time) (int64, error)
}

// Retention periodically prunes the activity log on a cron schedule.
type Retention struct {
	pruner Pruner
	days   int
	logger *slog.Logger
	now    func() time.Time
	cron   *rcron.Cron
}

// NewRetention schedules pruning of entries older than days. A schedule
// is any robfig/cron spec, e.g. "@every 1h" or "0 3 * * *".
func NewRetention(pruner Pruner, schedule string, days int, logger *slog.Logger) (*Retention, error) {
	if days <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", days)
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retention{
		pruner: pruner,
		days:   days,
		logger: logger,
		now:    time.Now,
		cron:   rcron.New(),
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start runs the schedule in the background.
func (r *Retention) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

// PruneNow deletes entries older than the retention window.
func (r *Retention) PruneNow(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-time.Duration(r.days) * 24 * time.Hour)
	n, err := r.pruner.PruneActivity(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune activity: %w", err)
	}
	return n, nil
}

func (r *Retention) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := r.PruneNow(ctx)
	if err != nil {
		r.logger.Error("scheduled prune failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("pruned activity log", "deleted", n, "retention_days", r.days)
	}
}
