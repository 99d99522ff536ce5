package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type WindowPruner interface {
	PruneWindows(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RetentionSweeper deletes expired rate-limit windows on a cron schedule.
type RetentionSweeper struct {
	cron     *cron.Cron
	pruner   WindowPruner
	schedule string
	maxAge   time.Duration
}

func NewRetentionSweeper(pruner WindowPruner, schedule string, maxAge time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		pruner:   pruner,
		schedule: schedule,
		maxAge:   maxAge,
	}
}

// Sweep runs one pruning pass.
func (s *RetentionSweeper) Sweep(ctx context.Context) {
	n, err := s.pruner.PruneWindows(ctx, s.maxAge)
	if err != nil {
		slog.Error("retention: prune failed", "error", err)
		return
	}
	slog.Info("retention: pruned rate limit windows", "deleted", n, "max_age", s.maxAge)
}

func (s *RetentionSweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("retention: invalid schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	slog.Info("retention sweeper started", "schedule", s.schedule)

	<-ctx.Done()
	return nil
}

func (s *RetentionSweeper) Stop(ctx context.Context) error {
	<-s.cron.Stop().Done()
	return nil
}
