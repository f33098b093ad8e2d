package jobhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/northfield/commerce-ingest/internal/adapter/adsclient"
	"github.com/northfield/commerce-ingest/internal/domain"
)

// SecretKeyAdsAccessToken is the IntegrationSecret key holding the ads
// platform's long-lived access token.
const SecretKeyAdsAccessToken = "ads_access_token"

// AdsDeps are the collaborators shared by both ads handlers.
type AdsDeps struct {
	Integrations        domain.IntegrationRepository
	Warehouse           domain.WarehouseWriter
	Client              *adsclient.Client
	AttributionWindowDays int
}

// loadAccount resolves the integration, its account's currency (§3 Account
// Currency Rule), and its access token.
func (d AdsDeps) loadAccount(ctx context.Context, integrationID string) (domain.Integration, string, string, error) {
	integ, err := d.Integrations.Get(ctx, integrationID)
	if err != nil {
		return domain.Integration{}, "", "", fmt.Errorf("op=jobhandler.ads.load_integration: %w", err)
	}
	account, err := d.Integrations.GetAccount(ctx, integ.AccountID)
	if err != nil {
		return domain.Integration{}, "", "", fmt.Errorf("op=jobhandler.ads.load_account: %w", err)
	}
	secret, err := d.Integrations.GetSecret(ctx, integrationID, SecretKeyAdsAccessToken)
	if err != nil {
		return domain.Integration{}, "", "", fmt.Errorf("op=jobhandler.ads.load_secret: %w", domain.ErrAuthFailed)
	}
	return integ, account.Currency, secret.Value, nil
}

// dailyAccumulator sums insight rows across every ad for one day.
type dailyAccumulator struct {
	spend, purchaseValue     float64
	impressions, clicks      int64
	purchaseCount            int64
	currency                 string
}

// syncDays fetches, lands, and rebuilds ad insights for each day in days,
// returning the total rows fetched across all days, the dates touched, and
// the total retry attempts consumed across every page fetch (§8 stats.retries).
func (d AdsDeps) syncDays(ctx context.Context, integ domain.Integration, currency, token string, days []string) (int, []string, int, error) {
	var allRaw []domain.AdsRaw
	var allFacts []domain.AdsDailyFact
	fetched := 0
	retries := 0

	for _, day := range days {
		rows, dayRetries, err := d.Client.FetchInsightsForDay(ctx, integ.ExternalRef, token, day)
		if err != nil {
			return 0, nil, retries + dayRetries, err
		}
		fetched += len(rows)
		retries += dayRetries

		acc := dailyAccumulator{currency: currency}
		for _, r := range rows {
			payload, err := json.Marshal(r)
			if err != nil {
				return 0, nil, retries, fmt.Errorf("op=jobhandler.ads.marshal: %w", domain.ErrSchemaMismatch)
			}
			allRaw = append(allRaw, domain.AdsRaw{
				IntegrationID: integ.ID,
				AdID:          r.AdID,
				Date:          day,
				Payload:       payload,
			})

			spend, err := parseOptionalFloat(r.Spend)
			if err != nil {
				return 0, nil, retries, fmt.Errorf("op=jobhandler.ads.parse_spend: %w", domain.ErrSchemaMismatch)
			}
			impressions, err := parseOptionalInt(r.Impressions)
			if err != nil {
				return 0, nil, retries, fmt.Errorf("op=jobhandler.ads.parse_impressions: %w", domain.ErrSchemaMismatch)
			}
			clicks, err := parseOptionalInt(r.Clicks)
			if err != nil {
				return 0, nil, retries, fmt.Errorf("op=jobhandler.ads.parse_clicks: %w", domain.ErrSchemaMismatch)
			}
			purchaseCount, err := parseOptionalInt(r.PurchaseCount)
			if err != nil {
				return 0, nil, retries, fmt.Errorf("op=jobhandler.ads.parse_purchase_count: %w", domain.ErrSchemaMismatch)
			}
			purchaseValue, err := parseOptionalFloat(r.PurchaseValue)
			if err != nil {
				return 0, nil, retries, fmt.Errorf("op=jobhandler.ads.parse_purchase_value: %w", domain.ErrSchemaMismatch)
			}

			acc.spend += spend
			acc.impressions += impressions
			acc.clicks += clicks
			acc.purchaseCount += purchaseCount
			acc.purchaseValue += purchaseValue
		}

		if len(rows) > 0 {
			allFacts = append(allFacts, domain.AdsDailyFact{
				IntegrationID: integ.ID,
				AccountID:     integ.AccountID,
				AdAccountID:   integ.ExternalRef,
				Date:          day,
				Spend:         acc.spend,
				Impressions:   acc.impressions,
				Clicks:        acc.clicks,
				PurchaseCount: acc.purchaseCount,
				PurchaseValue: acc.purchaseValue,
				Currency:      acc.currency,
			})
		}
	}

	dates, err := d.Warehouse.WriteAds(ctx, allRaw, allFacts, nil)
	if err != nil {
		return 0, nil, retries, fmt.Errorf("op=jobhandler.ads.write: %w", domain.ErrDBWrite)
	}
	return fetched, dates, retries, nil
}

func parseOptionalFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseOptionalInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// windowDays returns the YYYY-MM-DD dates from start through end inclusive.
func windowDays(start, end time.Time) []string {
	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format("2006-01-02"))
	}
	return days
}
