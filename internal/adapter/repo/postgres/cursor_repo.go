package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/northfield/commerce-ingest/internal/domain"
)

// CursorRepo implements domain.CursorRepository. CursorValue is an opaque
// string (an RFC3339 timestamp in practice); monotonic advancement is
// enforced by the WHERE clause of each write, not by application code, so
// two racing writers can never regress the watermark between them.
type CursorRepo struct{ Pool PgxPool }

// NewCursorRepo constructs a CursorRepo with the given pool.
func NewCursorRepo(p PgxPool) *CursorRepo { return &CursorRepo{Pool: p} }

// Get loads a cursor by its (integration, job type, key) identity.
func (r *CursorRepo) Get(ctx domain.Context, integrationID string, jobType domain.JobType, key string) (domain.SyncCursor, bool, error) {
	tracer := otel.Tracer("repo.sync_cursors")
	ctx, span := tracer.Start(ctx, "sync_cursors.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "sync_cursors"),
	)
	q := `SELECT integration_id, job_type, cursor_key, cursor_value, updated_at
	      FROM sync_cursors WHERE integration_id=$1 AND job_type=$2 AND cursor_key=$3`
	row := r.Pool.QueryRow(ctx, q, integrationID, jobType, key)
	var c domain.SyncCursor
	if err := row.Scan(&c.IntegrationID, &c.JobType, &c.CursorKey, &c.CursorValue, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.SyncCursor{}, false, nil
		}
		return domain.SyncCursor{}, false, fmt.Errorf("op=cursor.get: %w", err)
	}
	return c, true, nil
}

// AdvanceIfGreater writes value only if no cursor exists yet, or the
// existing cursor_value sorts strictly before value (RFC3339 lexical
// comparison is safe for UTC timestamps).
func (r *CursorRepo) AdvanceIfGreater(ctx domain.Context, integrationID string, jobType domain.JobType, key, value string) (bool, error) {
	tracer := otel.Tracer("repo.sync_cursors")
	ctx, span := tracer.Start(ctx, "sync_cursors.AdvanceIfGreater")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "sync_cursors"),
	)
	q := `INSERT INTO sync_cursors (integration_id, job_type, cursor_key, cursor_value, updated_at)
	      VALUES ($1, $2, $3, $4, $5)
	      ON CONFLICT (integration_id, job_type, cursor_key)
	      DO UPDATE SET cursor_value=EXCLUDED.cursor_value, updated_at=EXCLUDED.updated_at
	      WHERE sync_cursors.cursor_value < EXCLUDED.cursor_value`
	tag, err := r.Pool.Exec(ctx, q, integrationID, jobType, key, value, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("op=cursor.advance_if_greater: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InitIfAbsent writes value only if no cursor row exists yet.
func (r *CursorRepo) InitIfAbsent(ctx domain.Context, integrationID string, jobType domain.JobType, key, value string) (bool, error) {
	tracer := otel.Tracer("repo.sync_cursors")
	ctx, span := tracer.Start(ctx, "sync_cursors.InitIfAbsent")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "sync_cursors"),
	)
	q := `INSERT INTO sync_cursors (integration_id, job_type, cursor_key, cursor_value, updated_at)
	      VALUES ($1, $2, $3, $4, $5)
	      ON CONFLICT (integration_id, job_type, cursor_key) DO NOTHING`
	tag, err := r.Pool.Exec(ctx, q, integrationID, jobType, key, value, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("op=cursor.init_if_absent: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
