// Package commerceclient speaks the commerce GraphQL API: an authenticated
// request primitive, cursor-following pagination over the orders
// connection, and cost-telemetry extraction for the throttle controller.
package commerceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/northfield/commerce-ingest/internal/adapter/observability"
	"github.com/northfield/commerce-ingest/internal/domain"
	"github.com/northfield/commerce-ingest/internal/service/throttle"
)

// Client is an authenticated commerce GraphQL client for a single shop.
type Client struct {
	hc         *http.Client
	apiVersion string
	throttle   *throttle.Controller
}

// NewClient constructs a Client. The otelhttp transport mirrors the
// teacher's AI client instrumentation so every outbound call gets a span.
func NewClient(apiVersion string, timeout time.Duration, tc *throttle.Controller) *Client {
	return &Client{
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		apiVersion: apiVersion,
		throttle:   tc,
	}
}

// PageInfo mirrors the GraphQL connection page_info fragment.
type PageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// OrderNode is one order in the orders connection, trimmed to the fields
// the normaliser (internal/money) needs.
type OrderNode struct {
	ID                string  `json:"id"`
	Name              *string `json:"name"`
	OrderNumber       *string `json:"orderNumber"`
	CurrentTotalPrice *string `json:"currentTotalPriceSet,omitempty"`
	TotalPrice        string  `json:"totalPriceSet"`
	TotalRefunds      *string `json:"totalRefundedSet,omitempty"`
	Currency          *string `json:"currencyCode"`
	FinancialStatus   *string `json:"displayFinancialStatus"`
	FulfillmentStatus *string `json:"displayFulfillmentStatus"`
	CreatedAt         string  `json:"createdAt"`
	UpdatedAt         string  `json:"updatedAt"`
}

// OrdersPage is one page of the orders connection plus the cost telemetry
// that accompanied it.
type OrdersPage struct {
	Orders   []OrderNode
	PageInfo PageInfo
	Cost     throttle.Telemetry
}

type graphqlRequest struct {
	Query     string `json:"query"`
	Variables any    `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type ordersQueryResponse struct {
	Data struct {
		Orders struct {
			Edges []struct {
				Node OrderNode `json:"node"`
			} `json:"edges"`
			PageInfo PageInfo `json:"pageInfo"`
		} `json:"orders"`
	} `json:"data"`
	Extensions struct {
		Cost struct {
			ThrottleStatus struct {
				CurrentlyAvailable float64 `json:"currentlyAvailable"`
				MaximumAvailable   float64 `json:"maximumAvailable"`
				RestoreRate        float64 `json:"restoreRate"`
			} `json:"throttleStatus"`
			RequestedQueryCost float64 `json:"requestedQueryCost"`
		} `json:"cost"`
	} `json:"extensions"`
	Errors []graphqlError `json:"errors"`
}

const ordersQueryTemplate = `
query Orders($filter: String!, $after: String) {
  orders(first: 50, query: $filter, sortKey: %s, after: $after) {
    edges { node {
      id name orderNumber totalPriceSet currentTotalPriceSet totalRefundedSet currencyCode
      displayFinancialStatus displayFulfillmentStatus createdAt updatedAt
    } }
    pageInfo { hasNextPage endCursor }
  }
}`

// OrderFilterField selects which order timestamp the orders connection is
// filtered and sorted on. window_fill (§4.3) uses CreatedAt so a backfill
// never misses orders whose updated_at moved outside the window after
// creation; fresh (§4.4) uses UpdatedAt so its cursor advances on any
// change to an already-seen order.
type OrderFilterField string

// Order filter fields.
const (
	FilterCreatedAt OrderFilterField = "created_at"
	FilterUpdatedAt OrderFilterField = "updated_at"
)

func (f OrderFilterField) sortKey() string {
	switch f {
	case FilterCreatedAt:
		return "CREATED_AT"
	default:
		return "UPDATED_AT"
	}
}

// FetchOrdersPage fetches a single page of orders whose field is at or
// after sinceValue (RFC3339), starting from the given cursor (nil for the
// first page).
func (c *Client) FetchOrdersPage(ctx context.Context, shopDomain, accessToken string, field OrderFilterField, sinceValue string, after *string) (OrdersPage, error) {
	filter := fmt.Sprintf("%s:>='%s'", field, sinceValue)
	body, err := json.Marshal(graphqlRequest{
		Query:     fmt.Sprintf(ordersQueryTemplate, field.sortKey()),
		Variables: map[string]any{"filter": filter, "after": after},
	})
	if err != nil {
		return OrdersPage{}, fmt.Errorf("op=commerceclient.marshal: %w", domain.ErrSchemaMismatch)
	}

	url := graphqlURL(shopDomain, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return OrdersPage{}, fmt.Errorf("op=commerceclient.new_request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.RecordSourceCall("commerce", "fetch_orders", "network_error", time.Since(start))
		return OrdersPage{}, fmt.Errorf("op=commerceclient.do: %w", domain.ErrUpstream5xx)
	}
	defer resp.Body.Close()

	outcome := classifyStatus(resp.StatusCode)
	observability.RecordSourceCall("commerce", "fetch_orders", outcome, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return OrdersPage{}, fmt.Errorf("op=commerceclient.auth: status=%d: %w", resp.StatusCode, domain.ErrAuthFailed)
	case resp.StatusCode == http.StatusTooManyRequests:
		return OrdersPage{}, fmt.Errorf("op=commerceclient.rate_limited: %w", domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return OrdersPage{}, fmt.Errorf("op=commerceclient.upstream: status=%d: %w", resp.StatusCode, domain.ErrUpstream5xx)
	case resp.StatusCode >= 400:
		snippet := readSnippet(resp.Body, 512)
		return OrdersPage{}, fmt.Errorf("op=commerceclient.bad_request: status=%d body=%q: %w", resp.StatusCode, snippet, domain.ErrSchemaMismatch)
	}

	var parsed ordersQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return OrdersPage{}, fmt.Errorf("op=commerceclient.decode: %w", domain.ErrSchemaMismatch)
	}
	if len(parsed.Errors) > 0 {
		return OrdersPage{}, fmt.Errorf("op=commerceclient.graphql_errors: %s: %w", parsed.Errors[0].Message, domain.ErrSchemaMismatch)
	}

	page := OrdersPage{
		PageInfo: parsed.Data.Orders.PageInfo,
		Cost: throttle.Telemetry{
			CurrentlyAvailable: parsed.Extensions.Cost.ThrottleStatus.CurrentlyAvailable,
			MaximumAvailable:   parsed.Extensions.Cost.ThrottleStatus.MaximumAvailable,
			RestoreRate:        parsed.Extensions.Cost.ThrottleStatus.RestoreRate,
			RequestedQueryCost: parsed.Extensions.Cost.RequestedQueryCost,
		},
	}
	for _, e := range parsed.Data.Orders.Edges {
		page.Orders = append(page.Orders, e.Node)
	}
	return page, nil
}

// FetchOrdersSince drains the orders connection whose field is at or after
// sinceValue, observing throttle telemetry between pages and defending
// against a server that claims hasNextPage=true with no cursor. It returns
// every order fetched and the number of API calls made.
func (c *Client) FetchOrdersSince(ctx context.Context, shopDomain, accessToken string, field OrderFilterField, sinceValue string) ([]OrderNode, int, error) {
	var all []OrderNode
	var after *string
	calls := 0
	for {
		delay := c.throttle.DelayFor(ctx, shopDomain)
		if delay > 0 {
			observability.RecordThrottleDelay(delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, calls, ctx.Err()
			}
		}

		page, err := c.FetchOrdersPage(ctx, shopDomain, accessToken, field, sinceValue, after)
		calls++
		if err != nil {
			return nil, calls, err
		}
		c.throttle.Observe(ctx, shopDomain, page.Cost)
		all = append(all, page.Orders...)

		if !page.PageInfo.HasNextPage {
			return all, calls, nil
		}
		if page.PageInfo.EndCursor == nil {
			observability.RecordSourceCall("commerce", "fetch_orders", "missing_cursor", 0)
			return all, calls, nil
		}
		after = page.PageInfo.EndCursor
	}
}

// graphqlURL builds the shop's GraphQL admin endpoint. shopDomain is
// normally a bare hostname ("shop.myshopify.com"); tests may instead pass
// a full http:// base so requests reach an httptest.Server.
func graphqlURL(shopDomain, apiVersion string) string {
	if strings.Contains(shopDomain, "://") {
		return fmt.Sprintf("%s/admin/api/%s/graphql.json", shopDomain, apiVersion)
	}
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shopDomain, apiVersion)
}

func classifyStatus(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "ok"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	default:
		return "client_error"
	}
}

func readSnippet(r io.Reader, n int) string {
	buf := make([]byte, n)
	m, _ := io.ReadAtLeast(io.LimitReader(r, int64(n)), buf, 0)
	return string(buf[:m])
}
