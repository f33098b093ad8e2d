package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/northfield/commerce-ingest/internal/domain"
)

// SyncRunRepo implements domain.SyncRunRepository.
type SyncRunRepo struct{ Pool PgxPool }

// NewSyncRunRepo constructs a SyncRunRepo with the given pool.
func NewSyncRunRepo(p PgxPool) *SyncRunRepo { return &SyncRunRepo{Pool: p} }

// Create inserts a queued Sync Run and returns its id.
func (r *SyncRunRepo) Create(ctx domain.Context, run domain.SyncRun) (string, error) {
	tracer := otel.Tracer("repo.sync_runs")
	ctx, span := tracer.Start(ctx, "sync_runs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "sync_runs"),
	)
	id := run.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := run.Status
	if status == "" {
		status = domain.SyncQueued
	}
	trigger := run.Trigger
	if trigger == "" {
		trigger = domain.TriggerAuto
	}
	q := `INSERT INTO sync_runs (id, integration_id, job_type, trigger, status, created_at)
	      VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.Pool.Exec(ctx, q, id, run.IntegrationID, run.JobType, trigger, status, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=sync_run.create: %w", err)
	}
	return id, nil
}

// ClaimNext selects and claims at most one claimable run under a row lock
// that skips already-locked rows, transitioning it to running.
//
// Grounded on the dist-job-scheduler ClaimAndFire query: ORDER BY
// created_at ASC, FOR UPDATE SKIP LOCKED so concurrent dispatcher replicas
// never contend on the same row and never double-claim it.
func (r *SyncRunRepo) ClaimNext(ctx domain.Context) (domain.SyncRun, bool, error) {
	tracer := otel.Tracer("repo.sync_runs")
	ctx, span := tracer.Start(ctx, "sync_runs.ClaimNext")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "sync_runs"),
	)

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return domain.SyncRun{}, false, fmt.Errorf("op=sync_run.claim_next.begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	q := `SELECT id, integration_id, job_type, trigger, status, created_at, retry_count
	      FROM sync_runs
	      WHERE status = $1
	         OR (status = $2 AND rate_limited AND rate_limit_reset_at <= NOW())
	      ORDER BY created_at ASC
	      LIMIT 1
	      FOR UPDATE SKIP LOCKED`
	row := tx.QueryRow(ctx, q, domain.SyncQueued, domain.SyncError)
	var run domain.SyncRun
	if err := row.Scan(&run.ID, &run.IntegrationID, &run.JobType, &run.Trigger, &run.Status, &run.CreatedAt, &run.RetryCount); err != nil {
		if err == pgx.ErrNoRows {
			committed = true
			_ = tx.Commit(ctx)
			return domain.SyncRun{}, false, nil
		}
		return domain.SyncRun{}, false, fmt.Errorf("op=sync_run.claim_next.select: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE sync_runs SET status=$2, started_at=$3, rate_limited=false, rate_limit_reset_at=NULL WHERE id=$1`,
		run.ID, domain.SyncRunning, now,
	); err != nil {
		return domain.SyncRun{}, false, fmt.Errorf("op=sync_run.claim_next.update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.SyncRun{}, false, fmt.Errorf("op=sync_run.claim_next.commit: %w", err)
	}
	committed = true

	run.Status = domain.SyncRunning
	run.StartedAt = &now
	return run, true, nil
}

// Terminate records the terminal state of a run.
func (r *SyncRunRepo) Terminate(ctx domain.Context, id string, status domain.SyncRunStatus, errCode, errMsg string, rateLimited bool, rateLimitResetAt *time.Time, stats map[string]any) error {
	tracer := otel.Tracer("repo.sync_runs")
	ctx, span := tracer.Start(ctx, "sync_runs.Terminate")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "sync_runs"),
	)

	var statsJSON []byte
	if stats != nil {
		b, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("op=sync_run.terminate.marshal_stats: %w", err)
		}
		statsJSON = b
	}

	q := `UPDATE sync_runs
	      SET status=$2, finished_at=$3, error_code=$4, error_message=$5,
	          rate_limited=$6, rate_limit_reset_at=$7, stats=$8, retry_count=retry_count+1
	      WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, time.Now().UTC(), errCode, domain.TruncateErrorMessage(errMsg), rateLimited, rateLimitResetAt, statsJSON)
	if err != nil {
		return fmt.Errorf("op=sync_run.terminate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=sync_run.terminate: %w", domain.ErrNotFound)
	}
	return nil
}

// ExistsRecentQueuedOrRunning reports whether a queued/running run of the
// given job type exists for integrationID created within `within`.
func (r *SyncRunRepo) ExistsRecentQueuedOrRunning(ctx domain.Context, integrationID string, jobType domain.JobType, within time.Duration) (bool, error) {
	tracer := otel.Tracer("repo.sync_runs")
	ctx, span := tracer.Start(ctx, "sync_runs.ExistsRecentQueuedOrRunning")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "sync_runs"),
	)
	q := `SELECT EXISTS (
	        SELECT 1 FROM sync_runs
	        WHERE integration_id=$1 AND job_type=$2
	          AND status IN ($3, $4)
	          AND created_at >= $5
	      )`
	cutoff := time.Now().UTC().Add(-within)
	row := r.Pool.QueryRow(ctx, q, integrationID, jobType, domain.SyncQueued, domain.SyncRunning, cutoff)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("op=sync_run.exists_recent: %w", err)
	}
	return exists, nil
}

// SweepAbandoned marks runs stuck in `running` for longer than maxAge as
// errored. Returns the number of rows affected.
func (r *SyncRunRepo) SweepAbandoned(ctx domain.Context, maxAge time.Duration) (int64, error) {
	tracer := otel.Tracer("repo.sync_runs")
	ctx, span := tracer.Start(ctx, "sync_runs.SweepAbandoned")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "sync_runs"),
	)
	cutoff := time.Now().UTC().Add(-maxAge)
	q := `UPDATE sync_runs
	      SET status=$1, finished_at=NOW(), error_code=$2, error_message=$3
	      WHERE status=$4 AND started_at < $5`
	tag, err := r.Pool.Exec(ctx, q, domain.SyncError, "abandoned", "abandoned: exceeded max running age", domain.SyncRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=sync_run.sweep_abandoned: %w", err)
	}
	return tag.RowsAffected(), nil
}
