// Package scheduler implements the fresh-job enqueue-with-dedup use case
// behind the external scheduler endpoint (§4.2).
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/northfield/commerce-ingest/internal/adapter/observability"
	"github.com/northfield/commerce-ingest/internal/domain"
)

// jobTypeForSource maps an integration type to the `fresh` job type it
// schedules.
var jobTypeForSource = map[domain.IntegrationType]domain.JobType{
	domain.IntegrationCommerce: domain.JobCommerceFresh,
	domain.IntegrationAds:      domain.JobAdsFresh,
}

// Scheduler enqueues one fresh Sync Run per healthy integration of a
// source type, skipping any integration that already has a queued or
// running fresh run within the configured interval.
type Scheduler struct {
	Integrations domain.IntegrationRepository
	Runs         domain.SyncRunRepository
}

// Result is what the scheduler endpoint reports back to the caller.
type Result struct {
	Inserted        int
	JobType         domain.JobType
	IntervalMinutes int
}

// EnqueueFresh runs the dedup-insert use case for sourceType, using
// intervalMinutes as the recency window for the existing-run check.
func (s *Scheduler) EnqueueFresh(ctx context.Context, sourceType domain.IntegrationType, intervalMinutes int) (Result, error) {
	jobType, ok := jobTypeForSource[sourceType]
	if !ok {
		return Result{}, fmt.Errorf("op=scheduler.enqueue_fresh: %w: unrecognised source type %q", domain.ErrInvalidArgument, sourceType)
	}
	interval := time.Duration(intervalMinutes) * time.Minute

	integrations, err := s.Integrations.ListActiveByType(ctx, sourceType)
	if err != nil {
		return Result{}, fmt.Errorf("op=scheduler.enqueue_fresh.list: %w", err)
	}

	inserted := 0
	for _, integ := range integrations {
		exists, err := s.Runs.ExistsRecentQueuedOrRunning(ctx, integ.ID, jobType, interval)
		if err != nil {
			return Result{}, fmt.Errorf("op=scheduler.enqueue_fresh.dedup_check: %w", err)
		}
		if exists {
			continue
		}
		run := domain.SyncRun{
			ID:            uuid.NewString(),
			IntegrationID: integ.ID,
			JobType:       jobType,
			Trigger:       domain.TriggerAuto,
			Status:        domain.SyncQueued,
		}
		if _, err := s.Runs.Create(ctx, run); err != nil {
			return Result{}, fmt.Errorf("op=scheduler.enqueue_fresh.create: %w", err)
		}
		inserted++
	}

	observability.RecordSchedulerInsert(string(jobType), inserted)
	return Result{Inserted: inserted, JobType: jobType, IntervalMinutes: intervalMinutes}, nil
}
