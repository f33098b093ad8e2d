package jobhandler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/northfield/commerce-ingest/internal/adapter/commerceclient"
	"github.com/northfield/commerce-ingest/internal/domain"
	"github.com/northfield/commerce-ingest/internal/service/throttle"
)

func strptr(s string) *string { return &s }

func newScenarioServer(t *testing.T, orders []commerceclient.OrderNode) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp struct {
			Data struct {
				Orders struct {
					Edges []struct {
						Node commerceclient.OrderNode `json:"node"`
					} `json:"edges"`
					PageInfo commerceclient.PageInfo `json:"pageInfo"`
				} `json:"orders"`
			} `json:"data"`
		}
		for _, o := range orders {
			resp.Data.Orders.Edges = append(resp.Data.Orders.Edges, struct {
				Node commerceclient.OrderNode `json:"node"`
			}{Node: o})
		}
		resp.Data.Orders.PageInfo = commerceclient.PageInfo{HasNextPage: false}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newCommerceDeps(t *testing.T, srv *httptest.Server, integ domain.Integration, acct domain.Account) (CommerceDeps, *fakeCursorRepo, *fakeWarehouse) {
	t.Helper()
	client := commerceclient.NewClient("2026-01", 5*time.Second, throttle.NewController(nil, 0.2, 200*time.Millisecond))
	cursors := newFakeCursorRepo()
	wh := &fakeWarehouse{}
	deps := CommerceDeps{
		Integrations: &fakeIntegrationRepo{
			integ:  integ,
			acct:   acct,
			secret: domain.IntegrationSecret{IntegrationID: integ.ID, Key: SecretKeyCommerceOfflineToken, Value: "tok"},
		},
		Cursors:        cursors,
		Warehouse:      wh,
		Client:         client,
		WindowFillDays: 7,
	}
	return deps, cursors, wh
}

func TestCommerceFresh_ScenarioA_EmptyCursor(t *testing.T) {
	integ := domain.Integration{ID: "integ-1", AccountID: "acct-1", Type: domain.IntegrationCommerce, ExternalRef: "shop.example.com"}
	acct := domain.Account{ID: "acct-1", Currency: "AUD"}

	orders := []commerceclient.OrderNode{
		{
			ID: "o1", TotalPrice: "150", Currency: strptr("AUD"),
			FinancialStatus: strptr("paid"), FulfillmentStatus: strptr("fulfilled"),
			CreatedAt: "2026-01-20T10:00:00Z", UpdatedAt: "2026-01-21T09:00:00Z",
		},
		{
			ID: "o2", TotalPrice: "80", TotalRefunds: strptr("10"), Currency: strptr("AUD"),
			FinancialStatus: strptr("refunded"),
			CreatedAt:       "2026-01-22T08:00:00Z", UpdatedAt: "2026-01-22T08:00:00Z",
		},
	}
	srv := newScenarioServer(t, orders)
	defer srv.Close()
	integ.ExternalRef = srv.URL

	deps, cursors, wh := newCommerceDeps(t, srv, integ, acct)

	h := CommerceFresh{CommerceDeps: deps}
	stats, err := h.Handle(context.Background(), domain.SyncRun{IntegrationID: integ.ID, JobType: domain.JobCommerceFresh})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if wh.commerceCalls != 1 {
		t.Fatalf("expected exactly 1 warehouse write, got %d", wh.commerceCalls)
	}
	if len(wh.lastOrders) != 2 {
		t.Fatalf("expected 2 fact rows, got %d", len(wh.lastOrders))
	}

	var o1Row, o2Row domain.CommerceOrder
	for _, o := range wh.lastOrders {
		if o.OrderDate == "2026-01-20" {
			o1Row = o
		}
		if o.OrderDate == "2026-01-22" {
			o2Row = o
		}
	}
	if o1Row.NetAmount != 150 || o1Row.GrossAmount != 150 {
		t.Fatalf("expected o1 gross=net=150, got %+v", o1Row)
	}
	if o1Row.Status != "paid / fulfilled" {
		t.Fatalf("expected status 'paid / fulfilled', got %q", o1Row.Status)
	}
	if o2Row.NetAmount != 70 || o2Row.GrossAmount != 80 || o2Row.RefundTotal != 10 {
		t.Fatalf("expected o2 gross=80 net=70 refund=10, got %+v", o2Row)
	}
	if o2Row.Status != "refunded" {
		t.Fatalf("expected status 'refunded', got %q", o2Row.Status)
	}

	cursor, found, _ := cursors.Get(context.Background(), integ.ID, domain.JobCommerceFresh, commerceCursorKey)
	if !found || cursor.CursorValue != "2026-01-22T08:00:00Z" {
		t.Fatalf("expected cursor 2026-01-22T08:00:00Z, got %q (found=%v)", cursor.CursorValue, found)
	}
	if stats["cursor_advanced"] != true {
		t.Fatalf("expected cursor_advanced=true, got %v", stats["cursor_advanced"])
	}
}

func TestCommerceFresh_ScenarioB_SecondFreshNothingNew(t *testing.T) {
	integ := domain.Integration{ID: "integ-1", AccountID: "acct-1", Type: domain.IntegrationCommerce}
	acct := domain.Account{ID: "acct-1", Currency: "AUD"}

	srv := newScenarioServer(t, nil)
	defer srv.Close()
	integ.ExternalRef = srv.URL

	deps, cursors, wh := newCommerceDeps(t, srv, integ, acct)
	cursors.cursors[cursors.key(integ.ID, domain.JobCommerceFresh, commerceCursorKey)] = "2026-01-22T08:00:00Z"

	h := CommerceFresh{CommerceDeps: deps}
	stats, err := h.Handle(context.Background(), domain.SyncRun{IntegrationID: integ.ID, JobType: domain.JobCommerceFresh})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats["cursor_advanced"] != false {
		t.Fatalf("expected cursor_advanced=false, got %v", stats["cursor_advanced"])
	}
	if wh.commerceCalls != 1 {
		t.Fatalf("warehouse write still happens (no-op), expected 1 call, got %d", wh.commerceCalls)
	}
	if len(wh.lastOrders) != 0 {
		t.Fatalf("expected no orders persisted, got %d", len(wh.lastOrders))
	}
}

func TestCommerceWindowFill_ScenarioE_CursorInitOnlyIfAbsent(t *testing.T) {
	integ := domain.Integration{ID: "integ-1", AccountID: "acct-1", Type: domain.IntegrationCommerce}
	acct := domain.Account{ID: "acct-1", Currency: "AUD"}

	orders := []commerceclient.OrderNode{
		{ID: "o1", TotalPrice: "50", CreatedAt: "2026-01-20T10:00:00Z", UpdatedAt: "2026-01-20T10:00:00Z"},
	}
	srv := newScenarioServer(t, orders)
	defer srv.Close()
	integ.ExternalRef = srv.URL

	deps, cursors, _ := newCommerceDeps(t, srv, integ, acct)
	cursors.cursors[cursors.key(integ.ID, domain.JobCommerceFresh, commerceCursorKey)] = "2026-01-25T00:00:00Z"

	h := CommerceWindowFill{CommerceDeps: deps}
	stats, err := h.Handle(context.Background(), domain.SyncRun{IntegrationID: integ.ID, JobType: domain.JobCommerceWindowFill})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats["cursor_initialized"] != false {
		t.Fatalf("expected cursor_initialized=false since a cursor already existed, got %v", stats["cursor_initialized"])
	}
	cursor, _, _ := cursors.Get(context.Background(), integ.ID, domain.JobCommerceFresh, commerceCursorKey)
	if cursor.CursorValue != "2026-01-25T00:00:00Z" {
		t.Fatalf("expected cursor unchanged, got %q", cursor.CursorValue)
	}
}
