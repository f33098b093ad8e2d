// Package dispatcher implements the job dispatcher loop (§4.1): claim one
// queued Sync Run under a row lock, resolve a handler by job type, run it,
// and record the terminal state.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/northfield/commerce-ingest/internal/adapter/observability"
	"github.com/northfield/commerce-ingest/internal/domain"
)

// Handler executes one Sync Run and returns its stats on success.
type Handler interface {
	Handle(ctx context.Context, run domain.SyncRun) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, run domain.SyncRun) (map[string]any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, run domain.SyncRun) (map[string]any, error) {
	return f(ctx, run)
}

// Registry resolves a Handler by job type. A JobType absent from the
// registry (e.g. from an older deployment) is the single runtime fallback
// the spec allows: the run terminates as unknown_job_type.
type Registry map[domain.JobType]Handler

// NewRegistry builds the compile-time-exhaustive handler set. Every
// domain.JobType constant must have an entry; an unmapped constant would
// be a build-time oversight, not a runtime condition.
func NewRegistry(commerceFresh, commerceWindowFill, adsFresh, adsWindowFill Handler) Registry {
	return Registry{
		domain.JobCommerceFresh:      commerceFresh,
		domain.JobCommerceWindowFill: commerceWindowFill,
		domain.JobAdsFresh:           adsFresh,
		domain.JobAdsWindowFill:      adsWindowFill,
	}
}

// rateLimitResetDelay is the §7 rate_limited cooldown: the dispatcher sets
// rate_limit_reset_at this far in the future when a handler's error
// indicates exhausted 429 retries, so the claim query skips the run until
// then.
const rateLimitResetDelay = 5 * time.Minute

// Dispatcher runs the single-threaded claim loop (§4.1, §5).
type Dispatcher struct {
	Runs         domain.SyncRunRepository
	Integrations domain.IntegrationRepository
	Registry     Registry
	PollInterval time.Duration
}

// Run drives the dispatch loop until ctx is cancelled. A panic inside one
// iteration is recovered, logged, and the loop resumes after a 5-second
// pause (§7) rather than crashing the process.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if d.runIterationRecovered(ctx) {
			select {
			case <-time.After(d.PollInterval):
			case <-ctx.Done():
				return
			}
		}
	}
}

// runIterationRecovered runs one claim-execute-terminate cycle, recovering
// from any panic. It returns whether the dispatcher should sleep before the
// next iteration (true on no-claimable-row, or after recovering a panic).
func (d *Dispatcher) runIterationRecovered(ctx context.Context) (shouldSleep bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatcher: panic in loop iteration, restarting", slog.Any("panic", r))
			time.Sleep(5 * time.Second)
			shouldSleep = true
		}
	}()
	return d.runIteration(ctx)
}

func (d *Dispatcher) runIteration(ctx context.Context) bool {
	run, claimed, err := d.Runs.ClaimNext(ctx)
	if err != nil {
		slog.Error("dispatcher: claim failed", slog.Any("error", err))
		return true
	}
	if !claimed {
		return true
	}
	observability.ClaimRun(string(run.JobType))

	handler, ok := d.Registry[run.JobType]
	if !ok {
		d.terminateUnknown(ctx, run)
		return false
	}

	stats, herr := handler.Handle(ctx, run)
	d.terminate(ctx, run, stats, herr)
	return false
}

func (d *Dispatcher) terminateUnknown(ctx context.Context, run domain.SyncRun) {
	msg := fmt.Sprintf("no handler registered for job type %q", run.JobType)
	if err := d.Runs.Terminate(ctx, run.ID, domain.SyncError, "unknown_job_type", msg, false, nil, nil); err != nil {
		slog.Error("dispatcher: failed to terminate unknown-job-type run", slog.String("run_id", run.ID), slog.Any("error", err))
	}
	observability.TerminateRun(string(run.JobType), string(domain.SyncError), "unknown_job_type")
}

func (d *Dispatcher) terminate(ctx context.Context, run domain.SyncRun, stats map[string]any, herr error) {
	if herr == nil {
		if err := d.Runs.Terminate(ctx, run.ID, domain.SyncSuccess, "", "", false, nil, stats); err != nil {
			slog.Error("dispatcher: failed to record success", slog.String("run_id", run.ID), slog.Any("error", err))
		}
		observability.TerminateRun(string(run.JobType), string(domain.SyncSuccess), "")
		return
	}

	errCode := domain.ErrorCode(herr)
	errMsg := domain.TruncateErrorMessage(herr.Error())

	rateLimited := errors.Is(herr, domain.ErrRateLimited)
	var resetAt *time.Time
	if rateLimited {
		t := time.Now().Add(rateLimitResetDelay)
		resetAt = &t
	}

	if errors.Is(herr, domain.ErrAuthFailed) && d.Integrations != nil {
		if merr := d.Integrations.MarkStatus(ctx, run.IntegrationID, domain.IntegrationError); merr != nil {
			slog.Error("dispatcher: failed to mark integration error", slog.String("integration_id", run.IntegrationID), slog.Any("error", merr))
		}
	}

	if err := d.Runs.Terminate(ctx, run.ID, domain.SyncError, errCode, errMsg, rateLimited, resetAt, stats); err != nil {
		slog.Error("dispatcher: failed to record error termination", slog.String("run_id", run.ID), slog.Any("error", err))
	}
	slog.Warn("dispatcher: run terminated with error",
		slog.String("run_id", run.ID), slog.String("job_type", string(run.JobType)),
		slog.String("error_code", errCode), slog.Any("error", herr))
	observability.TerminateRun(string(run.JobType), string(domain.SyncError), errCode)
}
