package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/northfield/commerce-ingest/internal/aggregate"
	"github.com/northfield/commerce-ingest/internal/domain"
)

// upsertAdsRaw lands raw (ad, date) insight payloads, keyed by
// (integration_id, ad_id, date).
func upsertAdsRaw(ctx domain.Context, tx pgx.Tx, raw []domain.AdsRaw) error {
	for _, r := range raw {
		_, err := tx.Exec(ctx, `
			INSERT INTO ads_raw (integration_id, ad_id, date, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (integration_id, ad_id, date)
			DO UPDATE SET payload=EXCLUDED.payload`,
			r.IntegrationID, r.AdID, r.Date, r.Payload,
		)
		if err != nil {
			return fmt.Errorf("op=ads.upsert_raw: %w", err)
		}
	}
	return nil
}

// upsertAdsDailyFacts writes per-(integration, ad-account, date) facts and
// returns the set of dates touched.
func upsertAdsDailyFacts(ctx domain.Context, tx pgx.Tx, facts []domain.AdsDailyFact) ([]string, error) {
	var touched []string
	for _, f := range facts {
		_, err := tx.Exec(ctx, `
			INSERT INTO ads_daily_facts (integration_id, account_id, ad_account_id, date, spend, impressions, clicks, purchase_count, purchase_value, currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (integration_id, ad_account_id, date)
			DO UPDATE SET spend=EXCLUDED.spend, impressions=EXCLUDED.impressions, clicks=EXCLUDED.clicks,
			              purchase_count=EXCLUDED.purchase_count, purchase_value=EXCLUDED.purchase_value, currency=EXCLUDED.currency`,
			f.IntegrationID, f.AccountID, f.AdAccountID, f.Date, f.Spend, f.Impressions, f.Clicks, f.PurchaseCount, f.PurchaseValue, f.Currency,
		)
		if err != nil {
			return nil, fmt.Errorf("op=ads.upsert_daily_facts: %w", err)
		}
		touched = append(touched, f.Date)
	}
	return aggregate.DistinctDates(touched), nil
}

// rebuildAdsDailyMetrics recomputes source_daily_metrics rows for this
// integration's ad account over the given dates from ads_daily_facts.
func rebuildAdsDailyMetrics(ctx domain.Context, tx pgx.Tx, integrationID string, dates []string) error {
	if len(dates) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		DELETE FROM source_daily_metrics
		WHERE entity_id = (SELECT ad_account_id FROM ads_daily_facts WHERE integration_id=$1 LIMIT 1)
		  AND date = ANY($2)`,
		integrationID, dates,
	)
	if err != nil {
		return fmt.Errorf("op=ads.rebuild_daily_metrics.delete: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO source_daily_metrics (account_id, entity_id, date, orders, revenue_net, revenue_gross, refund_total, spend, impressions, clicks)
		SELECT account_id, ad_account_id, date, 0, 0, 0, 0, SUM(spend), SUM(impressions), SUM(clicks)
		FROM ads_daily_facts
		WHERE integration_id=$1 AND date = ANY($2)
		GROUP BY account_id, ad_account_id, date`,
		integrationID, dates,
	)
	if err != nil {
		return fmt.Errorf("op=ads.rebuild_daily_metrics.insert: %w", err)
	}
	return nil
}
