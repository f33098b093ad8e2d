// Package money normalises raw commerce order payloads into the fact-table
// shape (§4.4): gross/net/refund amounts, a concatenated status, a display
// name with a three-step fallback chain, and a UTC order date.
package money

import (
	"strings"

	"github.com/northfield/commerce-ingest/pkg/textx"
)

// RawOrder is the subset of a commerce order payload the normaliser needs.
// Pointer fields distinguish "absent" from the zero value per the
// "treat missing currency as a recoverable warning, don't silently
// coalesce" guidance — callers decide what to do when Currency is nil.
type RawOrder struct {
	ID                string
	Name              *string
	OrderNumber        *string
	CurrentTotalPrice  *float64
	TotalPrice         float64
	TotalRefunds       *float64
	Currency           *string
	FinancialStatus    *string
	FulfillmentStatus  *string
	CreatedAt          string // ISO 8601
}

// Normalized is the output of Normalize: the fields the fact table stores,
// minus the identifiers (integration/account/shop) the caller already has.
type Normalized struct {
	GrossAmount float64
	NetAmount   float64
	RefundTotal float64
	Currency    string
	Status      string
	OrderName   string
	OrderDate   string
}

// Normalize implements the order monetary normalisation, status
// concatenation, name fallback, and date truncation rules of §4.4.
// shopCurrency is used when the order itself carries no currency.
func Normalize(o RawOrder, shopCurrency string) Normalized {
	gross := o.TotalPrice
	if o.CurrentTotalPrice != nil {
		gross = *o.CurrentTotalPrice
	}

	var refundTotal float64
	if o.TotalRefunds != nil {
		refundTotal = *o.TotalRefunds
	}
	net := gross - refundTotal
	if net < 0 {
		net = 0
	}

	currency := shopCurrency
	if o.Currency != nil && *o.Currency != "" {
		currency = *o.Currency
	}

	return Normalized{
		GrossAmount: gross,
		NetAmount:   net,
		RefundTotal: refundTotal,
		Currency:    currency,
		Status:      status(o.FinancialStatus, o.FulfillmentStatus),
		OrderName:   orderName(o),
		OrderDate:   orderDate(o.CreatedAt),
	}
}

// status concatenates financial and fulfilment status with " / ", skipping
// nils; returns "" only when both are nil.
func status(financial, fulfilment *string) string {
	var parts []string
	if financial != nil {
		parts = append(parts, *financial)
	}
	if fulfilment != nil {
		parts = append(parts, *fulfilment)
	}
	return strings.Join(parts, " / ")
}

// orderName falls back name -> "#order_number" -> "order_<id-without-prefix>",
// sanitized since it's free text from an upstream payload, not a generated id.
func orderName(o RawOrder) string {
	if o.Name != nil && *o.Name != "" {
		return textx.SanitizeText(*o.Name)
	}
	if o.OrderNumber != nil && *o.OrderNumber != "" {
		return "#" + textx.SanitizeText(*o.OrderNumber)
	}
	return "order_" + stripIDPrefix(o.ID)
}

// stripIDPrefix removes a "gid://.../Order/" style GraphQL global-id prefix,
// leaving just the trailing numeric/opaque id segment.
func stripIDPrefix(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// orderDate truncates an ISO-8601 timestamp to its first 10 characters
// (the UTC calendar date), which aggregates bucket on.
func orderDate(createdAt string) string {
	if len(createdAt) <= 10 {
		return createdAt
	}
	return createdAt[:10]
}
