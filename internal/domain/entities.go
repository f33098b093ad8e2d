package domain

import (
	"context"
	"time"
)

// Context is a type alias to stdlib context.Context, kept for symmetry with
// how adapters and usecases thread cancellation/deadlines through the
// ports below without importing context by name in every signature.
type Context = context.Context

// IntegrationType enumerates the external sources the worker syncs from.
type IntegrationType string

// Integration types.
const (
	IntegrationCommerce IntegrationType = "commerce"
	IntegrationAds      IntegrationType = "ads"
)

// IntegrationStatus captures connection health.
type IntegrationStatus string

// Integration statuses.
const (
	IntegrationConnected    IntegrationStatus = "connected"
	IntegrationStatusActive IntegrationStatus = "active" // legacy alias accepted by the scheduler dedup query
	IntegrationError        IntegrationStatus = "error"
	IntegrationDisconnected IntegrationStatus = "disconnected"
)

// Account is a tenant. Read-only to the worker.
type Account struct {
	ID          string
	Currency    string
	DisplayName string
}

// Integration is a connection between an Account and an external source.
// The worker mutates only Status, and only on fatal auth errors.
type Integration struct {
	ID             string
	AccountID      string
	Type           IntegrationType
	Status         IntegrationStatus
	ExternalRef    string // shop id or ad-account id
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IntegrationSecret holds a credential for an integration. Read-only to the
// worker; rotated by the OAuth flow.
type IntegrationSecret struct {
	IntegrationID string
	Key           string
	Value         string // decrypted value, as handed to the worker by the secret store
	UpdatedAt     time.Time
}

// JobType is a closed tagged union of the handlers the dispatcher knows how
// to run. Represented as a string-backed enum rather than free-form string
// dispatch so unknown values are caught at the registry boundary, not deep
// inside a handler.
type JobType string

// Job types.
const (
	JobCommerceFresh      JobType = "commerce_fresh"
	JobCommerceWindowFill JobType = "commerce_window_fill"
	JobAdsFresh           JobType = "ads_fresh"
	JobAdsWindowFill      JobType = "ads_window_fill"
)

// IsValid reports whether jt is one of the known job types.
func (jt JobType) IsValid() bool {
	switch jt {
	case JobCommerceFresh, JobCommerceWindowFill, JobAdsFresh, JobAdsWindowFill:
		return true
	default:
		return false
	}
}

// SyncRunStatus captures the lifecycle state of a Sync Run.
type SyncRunStatus string

// Sync Run statuses. Transitions are queued -> running -> {success, error} only.
const (
	SyncQueued  SyncRunStatus = "queued"
	SyncRunning SyncRunStatus = "running"
	SyncSuccess SyncRunStatus = "success"
	SyncError   SyncRunStatus = "error"
)

// SyncTrigger records who asked for a run.
type SyncTrigger string

// Sync Run triggers.
const (
	TriggerAuto   SyncTrigger = "auto"
	TriggerUser   SyncTrigger = "user"
	TriggerSystem SyncTrigger = "system"
)

// SyncRun is a single attempt to execute one job for one integration.
type SyncRun struct {
	ID              string
	IntegrationID   string
	JobType         JobType
	Trigger         SyncTrigger
	Status          SyncRunStatus
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	RateLimited     bool
	RateLimitResetAt *time.Time
	RetryCount      int
	ErrorCode       string
	ErrorMessage    string
	Stats           map[string]any
}

// SyncCursor is a per-(integration, job-type, key) watermark.
// Invariant: CursorValue is monotonically non-decreasing; writers must
// refuse to regress it.
type SyncCursor struct {
	IntegrationID string
	JobType       JobType
	CursorKey     string
	CursorValue   string
	UpdatedAt     time.Time
}

// CommerceRaw is the append-or-update landing row for a single order payload.
type CommerceRaw struct {
	IntegrationID string
	ExternalID    string
	Payload       []byte // unmodified JSON payload
	SourceCreated time.Time
	SourceUpdated time.Time
}

// CommerceOrder is one normalised order, the unit of truth for commerce
// aggregates. See internal/money for the normalisation rules (§4.4).
type CommerceOrder struct {
	IntegrationID string
	AccountID     string
	ShopID        string
	OrderName     string
	GrossAmount   float64
	NetAmount     float64
	RefundTotal   float64
	Currency      string
	OrderDate     string // YYYY-MM-DD, UTC
	Status        string
}

// AdsRaw is the append-or-update landing row for a single (ad, date) insight.
type AdsRaw struct {
	IntegrationID string
	AdID          string
	Date          string // YYYY-MM-DD
	Payload       []byte
}

// AdsDailyFact is one row per (integration, ad-account, date).
type AdsDailyFact struct {
	IntegrationID  string
	AccountID      string
	AdAccountID    string
	Date           string
	Spend          float64
	Impressions    int64
	Clicks         int64
	PurchaseCount  int64
	PurchaseValue  float64
	Currency       string
}

// SourceDailyMetrics is the per-shop or per-ad-account daily rollup, one
// row per (source entity, account, date).
type SourceDailyMetrics struct {
	AccountID   string
	EntityID    string // shop id or ad-account id
	Date        string
	Orders      int64
	RevenueNet  float64
	RevenueGross float64
	RefundTotal float64
	Spend       float64
	Impressions int64
	Clicks      int64
}

// DailySummary is the blended per-account-per-day view. MER and AOV are a
// pure function of RevenueNet/AdsSpend/Orders at rebuild time (§8.4).
type DailySummary struct {
	AccountID  string
	Date       string
	RevenueNet float64
	AdsSpend   float64
	MER        *float64 // nil when AdsSpend <= 0
	Orders     int64
	AOV        float64 // 0 when Orders == 0
}

// ComputeMER implements the daily summary law: MER = RevenueNet / AdsSpend
// when AdsSpend > 0, else nil.
func ComputeMER(revenueNet, adsSpend float64) *float64 {
	if adsSpend <= 0 {
		return nil
	}
	mer := revenueNet / adsSpend
	return &mer
}

// ComputeAOV implements the daily summary law: AOV = RevenueNet / Orders
// when Orders > 0, else 0.
func ComputeAOV(revenueNet float64, orders int64) float64 {
	if orders <= 0 {
		return 0
	}
	return revenueNet / float64(orders)
}
