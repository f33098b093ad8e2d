// Package domain defines core entities, ports, and domain-specific errors
// for the ingest worker. It has no dependency on any adapter package.
package domain

import "errors"

// Error taxonomy (sentinels). Adapters wrap the underlying cause with one of
// these via fmt.Errorf("op=...: %w", ...) so callers can classify failures
// with errors.Is/errors.As instead of matching on message substrings.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")

	// ErrAuthFailed means the source rejected the integration's credentials.
	ErrAuthFailed = errors.New("source auth failed")
	// ErrRateLimited means retries on a 429 response were exhausted.
	ErrRateLimited = errors.New("source rate limited")
	// ErrUpstream5xx means the source returned a server error after retries.
	ErrUpstream5xx = errors.New("source unavailable")
	// ErrBulkNotReady means a bulk-style query did not complete before the
	// ceiling elapsed.
	ErrBulkNotReady = errors.New("bulk operation not ready")
	// ErrSchemaMismatch means a response did not match the expected shape.
	ErrSchemaMismatch = errors.New("response schema mismatch")
	// ErrDBWrite means a warehouse write transaction failed and rolled back.
	ErrDBWrite = errors.New("db write error")
	// ErrUnknownJobType means the dispatcher found no handler for a run's job type.
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrWorkerInternal is the default bucket for anything unclassified.
	ErrWorkerInternal = errors.New("worker error")
)

// ErrorCode maps an error taxonomy sentinel to the `error_code` stored on a
// Sync Run, per §7. Unrecognised errors fall through to worker_error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailed):
		return "auth_error"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUpstream5xx):
		return "source_unavailable"
	case errors.Is(err, ErrBulkNotReady):
		return "bulk_not_ready"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, ErrDBWrite):
		return "db_write_error"
	case errors.Is(err, ErrUnknownJobType):
		return "unknown_job_type"
	default:
		return "worker_error"
	}
}

// MaxErrorMessageLen is the §8 bounded-error-message invariant: stored
// error_message length never exceeds this, with a truncation indicator.
const MaxErrorMessageLen = 1000

const truncationSuffix = "...[truncated]"

// TruncateErrorMessage bounds msg to MaxErrorMessageLen characters, appending
// a truncation indicator when it had to cut content.
func TruncateErrorMessage(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	cut := MaxErrorMessageLen - len(truncationSuffix)
	if cut < 0 {
		cut = 0
	}
	return msg[:cut] + truncationSuffix
}
