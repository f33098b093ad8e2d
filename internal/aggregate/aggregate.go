// Package aggregate holds the pure, DB-free pieces of the rebuild pipeline
// (§4.6): which dates a batch touches, and the blended daily-summary row a
// set of per-source rollups produces. The warehouse writer drives the SQL
// side of the same rebuild; these functions let the business rules
// (date-bucket purity, the daily summary law) be tested without a database.
package aggregate

import (
	"sort"

	"github.com/northfield/commerce-ingest/internal/domain"
)

// DistinctDates returns the deduplicated, sorted set of dates in dates.
// Feeding it the order_date of every row in a batch is exactly how §8
// property 7 (date-bucket purity) is verified: the rebuilt set must equal
// this set, no more, no less.
func DistinctDates(dates []string) []string {
	seen := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		if d == "" {
			continue
		}
		seen[d] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// SourceTotals is the per-(account, date) rollup the warehouse's
// source_daily_metrics rebuild produces, summed across every entity
// (shop or ad account) that account owns.
type SourceTotals struct {
	Date       string
	RevenueNet float64
	AdsSpend   float64
	Orders     int64
}

// BuildDailySummary turns per-date rollups into the blended DailySummary
// rows the daily summary law (§8.4) governs: MER/AOV are always derived
// via domain.ComputeMER/ComputeAOV, never stored independently.
func BuildDailySummary(accountID string, totals []SourceTotals) []domain.DailySummary {
	out := make([]domain.DailySummary, 0, len(totals))
	for _, t := range totals {
		out = append(out, domain.DailySummary{
			AccountID:  accountID,
			Date:       t.Date,
			RevenueNet: t.RevenueNet,
			AdsSpend:   t.AdsSpend,
			MER:        domain.ComputeMER(t.RevenueNet, t.AdsSpend),
			Orders:     t.Orders,
			AOV:        domain.ComputeAOV(t.RevenueNet, t.Orders),
		})
	}
	return out
}
