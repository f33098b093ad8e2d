package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/northfield/commerce-ingest/internal/domain"
)

type fakeIntegrations struct {
	list []domain.Integration
}

func (f *fakeIntegrations) Get(ctx context.Context, id string) (domain.Integration, error) {
	return domain.Integration{}, nil
}
func (f *fakeIntegrations) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return domain.Account{}, nil
}
func (f *fakeIntegrations) GetSecret(ctx context.Context, integrationID, key string) (domain.IntegrationSecret, error) {
	return domain.IntegrationSecret{}, nil
}
func (f *fakeIntegrations) MarkStatus(ctx context.Context, integrationID string, status domain.IntegrationStatus) error {
	return nil
}
func (f *fakeIntegrations) ListActiveByType(ctx context.Context, t domain.IntegrationType) ([]domain.Integration, error) {
	var out []domain.Integration
	for _, i := range f.list {
		if i.Type == t {
			out = append(out, i)
		}
	}
	return out, nil
}

type fakeRuns struct {
	recent  map[string]bool
	created []domain.SyncRun
}

func (f *fakeRuns) Create(ctx context.Context, run domain.SyncRun) (string, error) {
	f.created = append(f.created, run)
	return run.ID, nil
}
func (f *fakeRuns) ClaimNext(ctx context.Context) (domain.SyncRun, bool, error) {
	return domain.SyncRun{}, false, nil
}
func (f *fakeRuns) Terminate(ctx context.Context, id string, status domain.SyncRunStatus, errCode, errMsg string, rateLimited bool, rateLimitResetAt *time.Time, stats map[string]any) error {
	return nil
}
func (f *fakeRuns) ExistsRecentQueuedOrRunning(ctx context.Context, integrationID string, jobType domain.JobType, within time.Duration) (bool, error) {
	return f.recent[integrationID], nil
}
func (f *fakeRuns) SweepAbandoned(ctx context.Context, maxAge time.Duration) (int64, error) {
	return 0, nil
}

func TestEnqueueFresh_ScenarioD_DedupsSecondCall(t *testing.T) {
	integs := &fakeIntegrations{list: []domain.Integration{
		{ID: "integ-1", Type: domain.IntegrationCommerce, Status: domain.IntegrationConnected},
	}}
	runs := &fakeRuns{recent: map[string]bool{}}
	s := &Scheduler{Integrations: integs, Runs: runs}

	res1, err := s.EnqueueFresh(context.Background(), domain.IntegrationCommerce, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res1.Inserted != 1 {
		t.Fatalf("expected first call to insert 1, got %d", res1.Inserted)
	}

	runs.recent["integ-1"] = true

	res2, err := s.EnqueueFresh(context.Background(), domain.IntegrationCommerce, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res2.Inserted != 0 {
		t.Fatalf("expected second call to insert 0 (deduped), got %d", res2.Inserted)
	}
}

func TestEnqueueFresh_UnknownSourceType(t *testing.T) {
	s := &Scheduler{Integrations: &fakeIntegrations{}, Runs: &fakeRuns{recent: map[string]bool{}}}
	_, err := s.EnqueueFresh(context.Background(), domain.IntegrationType("unknown"), 60)
	if err == nil {
		t.Fatal("expected an error for unrecognised source type")
	}
}
