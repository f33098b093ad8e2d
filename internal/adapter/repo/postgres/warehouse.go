package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/northfield/commerce-ingest/internal/domain"
)

// Warehouse implements domain.WarehouseWriter: one transaction per run
// covering raw upsert, normalised-fact replace, per-source daily-metrics
// rebuild, and blended daily-summary rebuild for the dates a run touched.
//
// Grounded on jobs_repo.go's UpdateStatus: an explicit transaction with a
// committed-flag rollback guard, so a mid-write failure never leaves the
// warehouse half-updated.
type Warehouse struct{ Pool PgxPool }

// NewWarehouse constructs a Warehouse with the given pool.
func NewWarehouse(p PgxPool) *Warehouse { return &Warehouse{Pool: p} }

// WriteCommerce writes a batch of raw payloads and normalised orders,
// rebuilds the affected daily metrics and blended summary, then invokes
// cursorUpdate once the warehouse write has committed.
func (w *Warehouse) WriteCommerce(ctx domain.Context, raw []domain.CommerceRaw, orders []domain.CommerceOrder, cursorUpdate func(domain.Context) error) ([]string, error) {
	tracer := otel.Tracer("repo.warehouse")
	ctx, span := tracer.Start(ctx, "warehouse.WriteCommerce")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"))

	var integrationID string
	if len(raw) > 0 {
		integrationID = raw[0].IntegrationID
	} else if len(orders) > 0 {
		integrationID = orders[0].IntegrationID
	}

	var dates []string
	err := w.inTx(ctx, func(tx pgx.Tx) error {
		if err := upsertCommerceRaw(ctx, tx, raw); err != nil {
			return err
		}
		touched, err := upsertCommerceOrders(ctx, tx, orders)
		if err != nil {
			return err
		}
		dates = touched
		if integrationID == "" {
			return nil
		}
		if err := rebuildCommerceDailyMetrics(ctx, tx, integrationID, dates); err != nil {
			return err
		}
		accountID := accountIDOf(orders)
		return rebuildDailySummary(ctx, tx, accountID, dates)
	})
	if err != nil {
		return nil, fmt.Errorf("op=warehouse.write_commerce: %w", err)
	}

	if cursorUpdate != nil {
		if err := cursorUpdate(ctx); err != nil {
			return dates, fmt.Errorf("op=warehouse.write_commerce.cursor_update: %w", err)
		}
	}
	return dates, nil
}

// WriteAds mirrors WriteCommerce for ads facts.
func (w *Warehouse) WriteAds(ctx domain.Context, raw []domain.AdsRaw, facts []domain.AdsDailyFact, cursorUpdate func(domain.Context) error) ([]string, error) {
	tracer := otel.Tracer("repo.warehouse")
	ctx, span := tracer.Start(ctx, "warehouse.WriteAds")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"))

	var integrationID string
	if len(raw) > 0 {
		integrationID = raw[0].IntegrationID
	} else if len(facts) > 0 {
		integrationID = facts[0].IntegrationID
	}

	var dates []string
	err := w.inTx(ctx, func(tx pgx.Tx) error {
		if err := upsertAdsRaw(ctx, tx, raw); err != nil {
			return err
		}
		touched, err := upsertAdsDailyFacts(ctx, tx, facts)
		if err != nil {
			return err
		}
		dates = touched
		if integrationID == "" {
			return nil
		}
		if err := rebuildAdsDailyMetrics(ctx, tx, integrationID, dates); err != nil {
			return err
		}
		accountID := accountIDOfFacts(facts)
		return rebuildDailySummary(ctx, tx, accountID, dates)
	})
	if err != nil {
		return nil, fmt.Errorf("op=warehouse.write_ads: %w", err)
	}

	if cursorUpdate != nil {
		if err := cursorUpdate(ctx); err != nil {
			return dates, fmt.Errorf("op=warehouse.write_ads.cursor_update: %w", err)
		}
	}
	return dates, nil
}

// rebuildDailySummary recomputes the blended per-account-per-day view for
// the given dates from source_daily_metrics, applying the daily summary
// law (MER nil when spend<=0, AOV 0 when orders==0) at rebuild time so the
// stored row is always a pure function of the underlying rollups.
func rebuildDailySummary(ctx domain.Context, tx pgx.Tx, accountID string, dates []string) error {
	if accountID == "" || len(dates) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx, `
		SELECT date, COALESCE(SUM(revenue_net),0), COALESCE(SUM(spend),0), COALESCE(SUM(orders),0)
		FROM source_daily_metrics
		WHERE account_id=$1 AND date = ANY($2)
		GROUP BY date`,
		accountID, dates,
	)
	if err != nil {
		return fmt.Errorf("op=warehouse.rebuild_summary.select: %w", err)
	}
	type row struct {
		date       string
		revenueNet float64
		adsSpend   float64
		orders     int64
	}
	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.date, &r.revenueNet, &r.adsSpend, &r.orders); err != nil {
			rows.Close()
			return fmt.Errorf("op=warehouse.rebuild_summary.scan: %w", err)
		}
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("op=warehouse.rebuild_summary.rows: %w", err)
	}

	for _, r := range out {
		mer := domain.ComputeMER(r.revenueNet, r.adsSpend)
		aov := domain.ComputeAOV(r.revenueNet, r.orders)
		_, err := tx.Exec(ctx, `
			INSERT INTO daily_summary (account_id, date, revenue_net, ads_spend, mer, orders, aov)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (account_id, date)
			DO UPDATE SET revenue_net=EXCLUDED.revenue_net, ads_spend=EXCLUDED.ads_spend,
			              mer=EXCLUDED.mer, orders=EXCLUDED.orders, aov=EXCLUDED.aov`,
			accountID, r.date, r.revenueNet, r.adsSpend, mer, r.orders, aov,
		)
		if err != nil {
			return fmt.Errorf("op=warehouse.rebuild_summary.upsert: %w", err)
		}
	}
	return nil
}

func accountIDOf(orders []domain.CommerceOrder) string {
	if len(orders) == 0 {
		return ""
	}
	return orders[0].AccountID
}

func accountIDOfFacts(facts []domain.AdsDailyFact) string {
	if len(facts) == 0 {
		return ""
	}
	return facts[0].AccountID
}

func (w *Warehouse) inTx(ctx domain.Context, fn func(tx pgx.Tx) error) error {
	tx, err := w.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=warehouse.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=warehouse.commit_tx: %w", err)
	}
	committed = true
	return nil
}
