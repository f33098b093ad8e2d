// Package jobhandler implements the four sync-job handlers the dispatcher
// resolves by job type (§4.3-§4.5): commerce_window_fill, commerce_fresh,
// ads_window_fill, ads_fresh.
package jobhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/northfield/commerce-ingest/internal/adapter/commerceclient"
	"github.com/northfield/commerce-ingest/internal/domain"
	"github.com/northfield/commerce-ingest/internal/money"
)

const commerceCursorKey = "last_synced_order_updated_at"

// SecretKeyCommerceOfflineToken is the IntegrationSecret key holding the
// commerce platform's offline access token.
const SecretKeyCommerceOfflineToken = "commerce_offline_token"

// CommerceDeps are the collaborators shared by both commerce handlers.
type CommerceDeps struct {
	Integrations   domain.IntegrationRepository
	Cursors        domain.CursorRepository
	Warehouse      domain.WarehouseWriter
	Client         *commerceclient.Client
	WindowFillDays int
}

// loadShop resolves the integration, its account currency, and its offline
// token, failing with ErrAuthFailed if the secret is missing (the worker
// treats an absent credential the same as a rejected one).
func (d CommerceDeps) loadShop(ctx context.Context, integrationID string) (domain.Integration, string, string, error) {
	integ, err := d.Integrations.Get(ctx, integrationID)
	if err != nil {
		return domain.Integration{}, "", "", fmt.Errorf("op=jobhandler.commerce.load_integration: %w", err)
	}
	account, err := d.Integrations.GetAccount(ctx, integ.AccountID)
	if err != nil {
		return domain.Integration{}, "", "", fmt.Errorf("op=jobhandler.commerce.load_account: %w", err)
	}
	secret, err := d.Integrations.GetSecret(ctx, integrationID, SecretKeyCommerceOfflineToken)
	if err != nil {
		return domain.Integration{}, "", "", fmt.Errorf("op=jobhandler.commerce.load_secret: %w", domain.ErrAuthFailed)
	}
	return integ, account.Currency, secret.Value, nil
}

// normalize converts fetched GraphQL order nodes into raw landing rows and
// normalised fact rows, deduplicating by external order id within the run
// (last occurrence wins, matching the warehouse's own upsert semantics).
func normalize(integrationID, accountID, shopID, shopCurrency string, nodes []commerceclient.OrderNode) ([]domain.CommerceRaw, []domain.CommerceOrder, time.Time, error) {
	seen := make(map[string]int, len(nodes))
	var order []commerceclient.OrderNode
	for _, n := range nodes {
		if idx, ok := seen[n.ID]; ok {
			order[idx] = n
			continue
		}
		seen[n.ID] = len(order)
		order = append(order, n)
	}

	raw := make([]domain.CommerceRaw, 0, len(order))
	facts := make([]domain.CommerceOrder, 0, len(order))
	var maxUpdated time.Time

	for _, n := range order {
		createdAt, err := time.Parse(time.RFC3339, n.CreatedAt)
		if err != nil {
			return nil, nil, time.Time{}, fmt.Errorf("op=jobhandler.commerce.parse_created_at: %w", domain.ErrSchemaMismatch)
		}
		updatedAt, err := time.Parse(time.RFC3339, n.UpdatedAt)
		if err != nil {
			return nil, nil, time.Time{}, fmt.Errorf("op=jobhandler.commerce.parse_updated_at: %w", domain.ErrSchemaMismatch)
		}
		if updatedAt.After(maxUpdated) {
			maxUpdated = updatedAt
		}

		payload, err := marshalNode(n)
		if err != nil {
			return nil, nil, time.Time{}, fmt.Errorf("op=jobhandler.commerce.marshal: %w", domain.ErrSchemaMismatch)
		}
		raw = append(raw, domain.CommerceRaw{
			IntegrationID: integrationID,
			ExternalID:    n.ID,
			Payload:       payload,
			SourceCreated: createdAt,
			SourceUpdated: updatedAt,
		})

		total, err := parseFloat(n.TotalPrice)
		if err != nil {
			return nil, nil, time.Time{}, fmt.Errorf("op=jobhandler.commerce.parse_total_price: %w", domain.ErrSchemaMismatch)
		}
		var current *float64
		if n.CurrentTotalPrice != nil {
			v, err := parseFloat(*n.CurrentTotalPrice)
			if err != nil {
				return nil, nil, time.Time{}, fmt.Errorf("op=jobhandler.commerce.parse_current_total_price: %w", domain.ErrSchemaMismatch)
			}
			current = &v
		}
		var refunds *float64
		if n.TotalRefunds != nil {
			v, err := parseFloat(*n.TotalRefunds)
			if err != nil {
				return nil, nil, time.Time{}, fmt.Errorf("op=jobhandler.commerce.parse_total_refunds: %w", domain.ErrSchemaMismatch)
			}
			refunds = &v
		}

		norm := money.Normalize(money.RawOrder{
			ID:                n.ID,
			Name:              n.Name,
			OrderNumber:       n.OrderNumber,
			CurrentTotalPrice: current,
			TotalPrice:        total,
			TotalRefunds:      refunds,
			Currency:          n.Currency,
			FinancialStatus:   n.FinancialStatus,
			FulfillmentStatus: n.FulfillmentStatus,
			CreatedAt:         n.CreatedAt,
		}, shopCurrency)

		facts = append(facts, domain.CommerceOrder{
			IntegrationID: integrationID,
			AccountID:     accountID,
			ShopID:        shopID,
			OrderName:     norm.OrderName,
			GrossAmount:   norm.GrossAmount,
			NetAmount:     norm.NetAmount,
			RefundTotal:   norm.RefundTotal,
			Currency:      norm.Currency,
			OrderDate:     norm.OrderDate,
			Status:        norm.Status,
		})
	}

	return raw, facts, maxUpdated, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func marshalNode(n commerceclient.OrderNode) ([]byte, error) {
	return json.Marshal(n)
}
