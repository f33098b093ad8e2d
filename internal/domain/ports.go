package domain

import "time"

// IntegrationRepository reads integration/account/secret rows and mutates
// Integration.Status on fatal auth errors.
type IntegrationRepository interface {
	Get(ctx Context, id string) (Integration, error)
	GetAccount(ctx Context, id string) (Account, error)
	GetSecret(ctx Context, integrationID, key string) (IntegrationSecret, error)
	MarkStatus(ctx Context, integrationID string, status IntegrationStatus) error
	// ListActiveByType lists integrations of the given type that are healthy
	// enough to enqueue a fresh job for (connected or active).
	ListActiveByType(ctx Context, t IntegrationType) ([]Integration, error)
}

// SyncRunRepository implements the job dispatcher's claim and terminal-state
// transitions (§4.1) plus the scheduler's dedup check (§4.2).
type SyncRunRepository interface {
	// Create inserts a queued Sync Run and returns its id.
	Create(ctx Context, run SyncRun) (string, error)
	// ClaimNext selects and claims at most one queued (or rate-limit-expired)
	// run under a row lock that skips already-locked rows, transitioning it
	// to running. Returns (SyncRun{}, false, nil) when no row is claimable.
	ClaimNext(ctx Context) (SyncRun, bool, error)
	// Terminate records the terminal state of a run (success or error).
	Terminate(ctx Context, id string, status SyncRunStatus, errCode, errMsg string, rateLimited bool, rateLimitResetAt *time.Time, stats map[string]any) error
	// ExistsRecentQueuedOrRunning reports whether a queued/running run of the
	// given job type exists for integrationID created within `within`.
	ExistsRecentQueuedOrRunning(ctx Context, integrationID string, jobType JobType, within time.Duration) (bool, error)
	// SweepAbandoned marks runs stuck in `running` for longer than
	// maxAge as error/abandoned. Returns the number of rows affected.
	SweepAbandoned(ctx Context, maxAge time.Duration) (int64, error)
}

// CursorRepository implements the per-(integration, job-type, key) watermark
// with the monotonic-non-decreasing invariant enforced server-side.
type CursorRepository interface {
	Get(ctx Context, integrationID string, jobType JobType, key string) (SyncCursor, bool, error)
	// AdvanceIfGreater writes value only if no cursor exists yet, or the
	// existing cursor_value sorts strictly before value (RFC3339 lexical
	// comparison, which is safe for UTC timestamps). Returns whether it wrote.
	AdvanceIfGreater(ctx Context, integrationID string, jobType JobType, key, value string) (bool, error)
	// InitIfAbsent writes value only if no cursor row exists yet. Used by
	// window_fill to initialise without overwriting a fresh-advanced value.
	InitIfAbsent(ctx Context, integrationID string, jobType JobType, key, value string) (bool, error)
}

// WarehouseWriter implements §4.6: one transaction per run covering raw
// upsert, fact replace, daily-metrics rebuild, and daily-summary rebuild for
// a set of touched dates, plus an optional cursor update closure.
type WarehouseWriter interface {
	WriteCommerce(ctx Context, raw []CommerceRaw, orders []CommerceOrder, cursorUpdate func(Context) error) (datesAffected []string, err error)
	WriteAds(ctx Context, raw []AdsRaw, facts []AdsDailyFact, cursorUpdate func(Context) error) (datesAffected []string, err error)
}
