package jobhandler

import (
	"context"
	"time"

	"github.com/northfield/commerce-ingest/internal/domain"
)

// AdsWindowFill backfills the full attribution window of ad insights
// (§4.5 window_fill case).
type AdsWindowFill struct {
	AdsDeps
}

// Handle implements dispatcher.Handler.
func (h AdsWindowFill) Handle(ctx context.Context, run domain.SyncRun) (map[string]any, error) {
	integ, currency, token, err := h.loadAccount(ctx, run.IntegrationID)
	if err != nil {
		return nil, err
	}

	end := time.Now().UTC()
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
