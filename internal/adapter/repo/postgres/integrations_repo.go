package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jackc/pgx/v5"

	"github.com/northfield/commerce-ingest/internal/domain"
)

// IntegrationRepo implements domain.IntegrationRepository.
type IntegrationRepo struct{ Pool PgxPool }

// NewIntegrationRepo constructs an IntegrationRepo with the given pool.
func NewIntegrationRepo(p PgxPool) *IntegrationRepo { return &IntegrationRepo{Pool: p} }

// Get loads an integration by id.
func (r *IntegrationRepo) Get(ctx domain.Context, id string) (domain.Integration, error) {
	tracer := otel.Tracer("repo.integrations")
	ctx, span := tracer.Start(ctx, "integrations.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "integrations"),
	)
	q := `SELECT id, account_id, type, status, external_ref, created_at, updated_at
	      FROM integrations WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var it domain.Integration
	if err := row.Scan(&it.ID, &it.AccountID, &it.Type, &it.Status, &it.ExternalRef, &it.CreatedAt, &it.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Integration{}, fmt.Errorf("op=integration.get: %w", domain.ErrNotFound)
		}
		return domain.Integration{}, fmt.Errorf("op=integration.get: %w", err)
	}
	return it, nil
}

// GetAccount loads an account by id.
func (r *IntegrationRepo) GetAccount(ctx domain.Context, id string) (domain.Account, error) {
	tracer := otel.Tracer("repo.integrations")
	ctx, span := tracer.Start(ctx, "integrations.GetAccount")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "accounts"),
	)
	q := `SELECT id, currency, display_name FROM accounts WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Currency, &a.DisplayName); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Account{}, fmt.Errorf("op=account.get: %w", domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("op=account.get: %w", err)
	}
	return a, nil
}

// GetSecret loads a single credential for an integration.
func (r *IntegrationRepo) GetSecret(ctx domain.Context, integrationID, key string) (domain.IntegrationSecret, error) {
	tracer := otel.Tracer("repo.integrations")
	ctx, span := tracer.Start(ctx, "integrations.GetSecret")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "integration_secrets"),
	)
	q := `SELECT integration_id, key, value, updated_at FROM integration_secrets WHERE integration_id=$1 AND key=$2`
	row := r.Pool.QueryRow(ctx, q, integrationID, key)
	var s domain.IntegrationSecret
	if err := row.Scan(&s.IntegrationID, &s.Key, &s.Value, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.IntegrationSecret{}, fmt.Errorf("op=integration.get_secret: %w", domain.ErrNotFound)
		}
		return domain.IntegrationSecret{}, fmt.Errorf("op=integration.get_secret: %w", err)
	}
	return s, nil
}

// MarkStatus updates an integration's connection status.
func (r *IntegrationRepo) MarkStatus(ctx domain.Context, integrationID string, status domain.IntegrationStatus) error {
	tracer := otel.Tracer("repo.integrations")
	ctx, span := tracer.Start(ctx, "integrations.MarkStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "integrations"),
	)
	q := `UPDATE integrations SET status=$2, updated_at=NOW() WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, integrationID, status)
	if err != nil {
		return fmt.Errorf("op=integration.mark_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=integration.mark_status: %w", domain.ErrNotFound)
	}
	return nil
}

// ListActiveByType lists integrations of the given type in a state the
// scheduler is willing to enqueue a fresh job for.
func (r *IntegrationRepo) ListActiveByType(ctx domain.Context, t domain.IntegrationType) ([]domain.Integration, error) {
	tracer := otel.Tracer("repo.integrations")
	ctx, span := tracer.Start(ctx, "integrations.ListActiveByType")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "integrations"),
	)
	q := `SELECT id, account_id, type, status, external_ref, created_at, updated_at
	      FROM integrations
	      WHERE type=$1 AND status IN ($2, $3)
	      ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, t, domain.IntegrationConnected, domain.IntegrationStatusActive)
	if err != nil {
		return nil, fmt.Errorf("op=integration.list_active: %w", err)
	}
	defer rows.Close()

	var out []domain.Integration
	for rows.Next() {
		var it domain.Integration
		if err := rows.Scan(&it.ID, &it.AccountID, &it.Type, &it.Status, &it.ExternalRef, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=integration.list_active_scan: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=integration.list_active_rows: %w", err)
	}
	return out, nil
}
