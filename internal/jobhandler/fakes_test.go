package jobhandler

import (
	"context"

	"github.com/northfield/commerce-ingest/internal/domain"
)

type fakeIntegrationRepo struct {
	integ  domain.Integration
	acct   domain.Account
	secret domain.IntegrationSecret
}

func (f *fakeIntegrationRepo) Get(ctx context.Context, id string) (domain.Integration, error) {
	return f.integ, nil
}
func (f *fakeIntegrationRepo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return f.acct, nil
}
func (f *fakeIntegrationRepo) GetSecret(ctx context.Context, integrationID, key string) (domain.IntegrationSecret, error) {
	return f.secret, nil
}
func (f *fakeIntegrationRepo) MarkStatus(ctx context.Context, integrationID string, status domain.IntegrationStatus) error {
	f.integ.Status = status
	return nil
}
func (f *fakeIntegrationRepo) ListActiveByType(ctx context.Context, t domain.IntegrationType) ([]domain.Integration, error) {
	return []domain.Integration{f.integ}, nil
}

type fakeCursorRepo struct {
	cursors map[string]string
}

func newFakeCursorRepo() *fakeCursorRepo {
	return &fakeCursorRepo{cursors: map[string]string{}}
}

func (f *fakeCursorRepo) key(integrationID string, jobType domain.JobType, k string) string {
	return integrationID + "|" + string(jobType) + "|" + k
}

func (f *fakeCursorRepo) Get(ctx context.Context, integrationID string, jobType domain.JobType, key string) (domain.SyncCursor, bool, error) {
	v, ok := f.cursors[f.key(integrationID, jobType, key)]
	if !ok {
		return domain.SyncCursor{}, false, nil
	}
	return domain.SyncCursor{IntegrationID: integrationID, JobType: jobType, CursorKey: key, CursorValue: v}, true, nil
}

func (f *fakeCursorRepo) AdvanceIfGreater(ctx context.Context, integrationID string, jobType domain.JobType, key, value string) (bool, error) {
	k := f.key(integrationID, jobType, key)
	if existing, ok := f.cursors[k]; ok && existing >= value {
		return false, nil
	}
	f.cursors[k] = value
	return true, nil
}

func (f *fakeCursorRepo) InitIfAbsent(ctx context.Context, integrationID string, jobType domain.JobType, key, value string) (bool, error) {
	k := f.key(integrationID, jobType, key)
	if _, ok := f.cursors[k]; ok {
		return false, nil
	}
	f.cursors[k] = value
	return true, nil
}

type fakeWarehouse struct {
	commerceCalls int
	adsCalls      int
	lastOrders    []domain.CommerceOrder
	lastFacts     []domain.AdsDailyFact
}

func (f *fakeWarehouse) WriteCommerce(ctx context.Context, raw []domain.CommerceRaw, orders []domain.CommerceOrder, cursorUpdate func(context.Context) error) ([]string, error) {
	f.commerceCalls++
	f.lastOrders = orders
	dates := map[string]struct{}{}
	for _, o := range orders {
		dates[o.OrderDate] = struct{}{}
	}
	var out []string
	for d := range dates {
		out = append(out, d)
	}
	if cursorUpdate != nil {
		if err := cursorUpdate(ctx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *fakeWarehouse) WriteAds(ctx context.Context, raw []domain.AdsRaw, facts []domain.AdsDailyFact, cursorUpdate func(context.Context) error) ([]string, error) {
	f.adsCalls++
	f.lastFacts = facts
	dates := map[string]struct{}{}
	for _, ft := range facts {
		dates[ft.Date] = struct{}{}
	}
	var out []string
	for d := range dates {
		out = append(out, d)
	}
	if cursorUpdate != nil {
		if err := cursorUpdate(ctx); err != nil {
			return nil, err
		}
	}
	return out, nil
}
