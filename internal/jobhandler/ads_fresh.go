package jobhandler

import (
	"context"
	"time"

	"github.com/northfield/commerce-ingest/internal/domain"
)

// AdsFresh re-fetches the attribution window ending yesterday (§4.5 fresh
// case). No persistent cursor is kept: the window is always re-fetched in
// full, so completion is implicit in the run's finished_at.
type AdsFresh struct {
	AdsDeps
}

// Handle implements dispatcher.Handler.
func (h AdsFresh) Handle(ctx context.Context, run domain.SyncRun) (map[string]any, error) {
	integ, currency, token, err := h.loadAccount(ctx, run.IntegrationID)
	if err != nil {
		return nil, err
	}

	end := time.Now().UTC().AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -h.AttributionWindowDays+1)
	days := windowDays(start, end)

	fetched, dates, retries, err := h.syncDays(ctx, integ, currency, token, days)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"fetched_rows":   fetched,
		"dates_affected": dates,
		"window_start":   start.Format("2006-01-02"),
		"window_end":     end.Format("2006-01-02"),
		"retries":        retries,
	}, nil
}
