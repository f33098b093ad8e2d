// Package sweeper runs the external abandoned-run collaborator described in
// §5: a ticker that marks Sync Runs stuck in `running` past a threshold as
// `error`/`abandoned`, covering the case where a worker process dies
// mid-run and leaves its transaction rolled back but its run row unclosed.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/northfield/commerce-ingest/internal/domain"
)

// AbandonedRunSweeper periodically calls domain.SyncRunRepository.SweepAbandoned.
type AbandonedRunSweeper struct {
	runs     domain.SyncRunRepository
	maxAge   time.Duration
	interval time.Duration
}

// New builds an AbandonedRunSweeper, defaulting maxAge to 30m and interval
// to 5m when unset (non-positive), per §5's "e.g. 30 min" guidance.
func New(runs domain.SyncRunRepository, maxAge, interval time.Duration) *AbandonedRunSweeper {
	if runs == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &AbandonedRunSweeper{runs: runs, maxAge: maxAge, interval: interval}
}

// Run ticks until ctx is cancelled, sweeping once immediately and then once
// per interval.
func (s *AbandonedRunSweeper) Run(ctx context.Context) {
	if s == nil || s.runs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("abandoned run sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *AbandonedRunSweeper) sweepOnce(ctx context.Context) {
	n, err := s.runs.SweepAbandoned(ctx, s.maxAge)
	if err != nil {
		slog.Error("abandoned run sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.Warn("swept abandoned sync runs", slog.Int64("count", n), slog.Duration("max_age", s.maxAge))
	}
}
