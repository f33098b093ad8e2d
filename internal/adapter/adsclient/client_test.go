package adsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/northfield/commerce-ingest/internal/domain"
	"github.com/northfield/commerce-ingest/internal/service/ratelimiter"
)

func TestFetchInsightsForDay_FollowsPagingNext(t *testing.T) {
	calls := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var page insightsPage
		if calls == 1 {
			page.Data = []InsightRow{{AdID: "a1", Date: "2026-01-20", Spend: "10"}}
			page.Paging.Next = srv.URL + "/page2"
		} else {
			page.Data = []InsightRow{{AdID: "a1", Date: "2026-01-21", Spend: "5"}}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, nil, 0, DefaultBackoffConfig())
	rows, _, err := c.FetchInsightsForDay(context.Background(), srv.URL, "tok", "2026-01-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestFetchInsightsForDay_AuthErrorIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, nil, 0, DefaultBackoffConfig())
	_, _, err := c.FetchInsightsForDay(context.Background(), srv.URL, "tok", "2026-01-01")
	if !errors.Is(err, domain.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a permanent error, got %d", calls)
	}
}

func TestFetchInsightsForDay_RateLimitExhaustsAfterFiveAttempts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, nil, 0, DefaultBackoffConfig())
	_, _, err := c.FetchInsightsForDay(context.Background(), srv.URL, "tok", "2026-01-01")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if calls != DefaultBackoffConfig().MaxAttempts {
		t.Fatalf("expected exactly %d attempts, got %d", DefaultBackoffConfig().MaxAttempts, calls)
	}
}

func TestFetchInsightsForDay_PrimesLimiterBucketOnFirstCall(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	limiter := ratelimiter.NewRedisLuaLimiter(rdb, nil, nil)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(insightsPage{Data: []InsightRow{{AdID: "a1", Date: "2026-01-20", Spend: "1"}}})
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, limiter, 1, DefaultBackoffConfig())
	if _, _, err := c.FetchInsightsForDay(context.Background(), srv.URL, "tok", "2026-01-01"); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if !c.primedBucketKeys[srv.URL] {
		t.Fatalf("expected bucket to be primed for key %q", srv.URL)
	}
}
