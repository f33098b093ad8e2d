package jobhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/northfield/commerce-ingest/internal/adapter/commerceclient"
	"github.com/northfield/commerce-ingest/internal/domain"
)

// CommerceFresh incrementally syncs orders by updated_at since the last
// cursor (§4.4). When no cursor exists yet — the first fresh run after
// connect — it falls back to now - WindowFillDays rather than a fixed
// 7-day default, so a shop connected long before the cursor existed does
// not silently lose history on its first incremental run.
type CommerceFresh struct {
	CommerceDeps
}

// Handle implements dispatcher.Handler.
func (h CommerceFresh) Handle(ctx context.Context, run domain.SyncRun) (map[string]any, error) {
	integ, shopCurrency, token, err := h.loadShop(ctx, run.IntegrationID)
	if err != nil {
		return nil, err
	}

	cursor, found, err := h.Cursors.Get(ctx, integ.ID, domain.JobCommerceFresh, commerceCursorKey)
	if err != nil {
		return nil, fmt.Errorf("op=jobhandler.commerce_fresh.load_cursor: %w", domain.ErrDBWrite)
	}
	previous := cursor.CursorValue
	if !found {
		previous = time.Now().UTC().AddDate(0, 0, -h.WindowFillDays).Format(time.RFC3339)
	}

	nodes, calls, err := h.Client.FetchOrdersSince(ctx, integ.ExternalRef, token, commerceclient.FilterUpdatedAt, previous)
	if err != nil {
		return nil, err
	}

	raw, facts, maxUpdated, err := normalize(integ.ID, integ.AccountID, integ.ExternalRef, shopCurrency, nodes)
	if err != nil {
		return nil, err
	}

	cursorAdvanced := false
	cursorNext := previous
	dates, err := h.Warehouse.WriteCommerce(ctx, raw, facts, func(ctx context.Context) error {
		if maxUpdated.IsZero() {
			return nil
		}
		candidate := maxUpdated.Format(time.RFC3339)
		if found && candidate <= previous {
			return nil
		}
		advanced, err := h.Cursors.AdvanceIfGreater(ctx, integ.ID, domain.JobCommerceFresh, commerceCursorKey, candidate)
		if err != nil {
			return fmt.Errorf("op=jobhandler.commerce_fresh.advance_cursor: %w", domain.ErrDBWrite)
		}
		if advanced {
			cursorAdvanced = true
			cursorNext = candidate
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=jobhandler.commerce_fresh.write: %w", domain.ErrDBWrite)
	}

	return map[string]any{
		"fetched_orders":    len(nodes),
		"persisted_orders":  len(facts),
		"dates_affected":    dates,
		"api_call_count":    calls,
		"cursor_previous":   previous,
		"cursor_next":       cursorNext,
		"cursor_advanced":   cursorAdvanced,
	}, nil
}
