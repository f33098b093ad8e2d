//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/northfield/commerce-ingest/internal/adapter/repo/postgres"
	"github.com/northfield/commerce-ingest/internal/domain"
)

const schema = `
CREATE TABLE accounts (id text primary key, currency text not null, display_name text not null);
CREATE TABLE integrations (
	id text primary key, account_id text not null, type text not null, status text not null,
	external_ref text not null, created_at timestamptz not null default now(), updated_at timestamptz not null default now()
);
CREATE TABLE sync_runs (
	id text primary key, integration_id text not null, job_type text not null, trigger text not null,
	status text not null, created_at timestamptz not null, started_at timestamptz, finished_at timestamptz,
	rate_limited boolean not null default false, rate_limit_reset_at timestamptz,
	retry_count int not null default 0, error_code text, error_message text, stats jsonb
);
CREATE TABLE sync_cursors (
	integration_id text not null, job_type text not null, cursor_key text not null, cursor_value text not null,
	updated_at timestamptz not null, primary key (integration_id, job_type, cursor_key)
);
`

// newTestPool starts a throwaway Postgres container and applies the schema
// above, grounded on the teacher's Test_Tika_And_Qdrant_Up container-boot
// pattern.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "ingest"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithStartupTimeout(90 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := "postgres://postgres:postgres@" + host + ":" + port.Port() + "/ingest?sslmode=disable"

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return db.Ping() == nil }, 30*time.Second, time.Second)
	_, err = db.Exec(schema)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestSyncRunRepo_ClaimNext_AtMostOnceUnderConcurrency(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	repo := postgres.NewSyncRunRepo(pool)

	_, err := pool.Exec(ctx, `INSERT INTO sync_runs (id, integration_id, job_type, trigger, status, created_at) VALUES ($1,$2,$3,$4,$5,now())`,
		"run-1", "integ-1", domain.JobCommerceFresh, domain.TriggerAuto, domain.SyncQueued)
	require.NoError(t, err)

	var claims int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.ClaimNext(ctx)
			require.NoError(t, err)
			if ok {
				atomic.AddInt64(&claims, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), claims, "exactly one goroutine should claim the single queued run")
}

func TestCursorRepo_AdvanceIfGreater_NeverRegresses(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	repo := postgres.NewCursorRepo(pool)

	wrote, err := repo.AdvanceIfGreater(ctx, "integ-1", domain.JobAdsFresh, "updated_at", "2026-07-10T00:00:00Z")
	require.NoError(t, err)
	require.True(t, wrote)

	wrote, err = repo.AdvanceIfGreater(ctx, "integ-1", domain.JobAdsFresh, "updated_at", "2026-07-01T00:00:00Z")
	require.NoError(t, err)
	require.False(t, wrote, "earlier value must not overwrite a later cursor")

	c, ok, err := repo.Get(ctx, "integ-1", domain.JobAdsFresh, "updated_at")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2026-07-10T00:00:00Z", c.CursorValue)
}
