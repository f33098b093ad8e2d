package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/northfield/commerce-ingest/internal/domain"
)

type fakeRuns struct {
	swept int32
	n     int64
	err   error
}

func (f *fakeRuns) Create(ctx context.Context, run domain.SyncRun) (string, error) { return "", nil }
func (f *fakeRuns) ClaimNext(ctx context.Context) (domain.SyncRun, bool, error) {
	return domain.SyncRun{}, false, nil
}
func (f *fakeRuns) Terminate(ctx context.Context, id string, status domain.SyncRunStatus, errCode, errMsg string, rateLimited bool, rateLimitResetAt *time.Time, stats map[string]any) error {
	return nil
}
func (f *fakeRuns) ExistsRecentQueuedOrRunning(ctx context.Context, integrationID string, jobType domain.JobType, within time.Duration) (bool, error) {
	return false, nil
}
func (f *fakeRuns) SweepAbandoned(ctx context.Context, maxAge time.Duration) (int64, error) {
	atomic.AddInt32(&f.swept, 1)
	return f.n, f.err
}

func TestNew_NilRunsReturnsNil(t *testing.T) {
	if New(nil, time.Minute, time.Minute) != nil {
		t.Fatal("expected nil sweeper for nil runs repo")
	}
}

func TestRun_SweepsImmediatelyThenOnTick(t *testing.T) {
	runs := &fakeRuns{n: 2}
	s := New(runs, time.Minute, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if atomic.LoadInt32(&runs.swept) < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", runs.swept)
	}
}

func TestRun_NilSweeperIsNoOp(t *testing.T) {
	var s *AbandonedRunSweeper
	s.Run(context.Background())
}
