// Package adsclient speaks the ads insights REST API: an authenticated
// request primitive, paging.next-driven pagination, and exponential
// backoff with jitter on 429/5xx responses.
package adsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/northfield/commerce-ingest/internal/adapter/observability"
	"github.com/northfield/commerce-ingest/internal/domain"
	"github.com/northfield/commerce-ingest/internal/service/ratelimiter"
)

// BackoffConfig parameterizes the exponential backoff applied to
// insight-fetch retries (§4.5, env-configurable per §6).
type BackoffConfig struct {
	Base        time.Duration
	Factor      float64
	MaxDelay    time.Duration
	JitterMax   time.Duration
	MaxAttempts int
}

// DefaultBackoffConfig matches the teacher's original fixed constants; used
// when a caller (mainly tests) has no config.Config to derive one from.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        1 * time.Second,
		Factor:      2.0,
		MaxDelay:    60 * time.Second,
		JitterMax:   250 * time.Millisecond,
		MaxAttempts: 5,
	}
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.Base <= 0 {
		b.Base = d.Base
	}
	if b.Factor <= 0 {
		b.Factor = d.Factor
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.JitterMax <= 0 {
		b.JitterMax = d.JitterMax
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.MaxAttempts
	}
	return b
}

// RateLimitExhausted is returned when all of the configured backoff
// attempts on a single call were consumed and the last one was a 429; callers should
// terminate the run as rate_limited with a 5-minute reset.
var RateLimitExhausted = fmt.Errorf("op=adsclient: retries exhausted: %w", domain.ErrRateLimited)

// Client is an authenticated ads insights client for a single ad account.
type Client struct {
	hc               *http.Client
	limiter          ratelimiter.Limiter
	defaultPerMinute int
	primedBucketKeys map[string]bool
	backoff          BackoffConfig
}

// NewClient constructs a Client. limiter may be nil, which disables
// proactive pre-call throttling (the 429/Retry-After handling in
// fetchPage still applies either way). defaultPerMinute primes each ad
// account's token bucket the first time it's seen, since the insights API
// carries no rate-limit-remaining response headers to learn it from. A
// zero-value BackoffConfig falls back to DefaultBackoffConfig per field.
func NewClient(timeout time.Duration, limiter ratelimiter.Limiter, defaultPerMinute int, backoff BackoffConfig) *Client {
	return &Client{
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:          limiter,
		defaultPerMinute: defaultPerMinute,
		primedBucketKeys: map[string]bool{},
		backoff:          backoff.withDefaults(),
	}
}

// primeBucket registers a default token-bucket config for an ad account's
// rate-limit key the first time it's used, the way the teacher's AI client
// primes a provider's bucket from its first response headers — here there
// are no headers to read, so a static per-minute ceiling is used instead.
func (c *Client) primeBucket(key string) {
	if c.limiter == nil || c.defaultPerMinute <= 0 || c.primedBucketKeys[key] {
		return
	}
	lua, ok := c.limiter.(*ratelimiter.RedisLuaLimiter)
	if !ok {
		return
	}
	lua.SetBucketConfig(key, ratelimiter.NewBucketConfigFromPerMinute(c.defaultPerMinute))
	c.primedBucketKeys[key] = true
}

// InsightRow is one (ad, date) insight row, trimmed to what the daily fact
// rebuild needs.
type InsightRow struct {
	AdID          string `json:"ad_id"`
	Date          string `json:"date_start"`
	Spend         string `json:"spend"`
	Impressions   string `json:"impressions"`
	Clicks        string `json:"clicks"`
	PurchaseCount string `json:"purchase_count,omitempty"`
	PurchaseValue string `json:"purchase_value,omitempty"`
}

type insightsPage struct {
	Data   []InsightRow `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// FetchInsightsForDay drains the ad-level insights endpoint for one
// ad account over a single day (time range [day, day], level=ad,
// effective_status in {ACTIVE, PAUSED}), following paging.next until it is
// empty. Each page fetch retries transient failures per the §4.5 backoff
// schedule; exhausting retries on any single page aborts the whole fetch,
// with RateLimitExhausted when the last failure was a 429 and with the last
// server or network error (ErrUpstream5xx) otherwise. It also returns the number of retry attempts
// consumed across every page fetched, so callers can surface it in run
// stats (§8).
func (c *Client) FetchInsightsForDay(ctx context.Context, baseURL, accessToken, day string) ([]InsightRow, int, error) {
	next := fmt.Sprintf("%s?time_range=%s&level=ad&effective_status=%s&access_token=%s",
		baseURL,
		url.QueryEscape(fmt.Sprintf(`{"since":"%s","until":"%s"}`, day, day)),
		url.QueryEscape(`["ACTIVE","PAUSED"]`),
		url.QueryEscape(accessToken),
	)
	var all []InsightRow
	retries := 0
	for next != "" {
		page, pageRetries, err := c.fetchPageWithRetry(ctx, next, baseURL)
		if err != nil {
			return nil, retries, err
		}
		retries += pageRetries
		all = append(all, page.Data...)
		next = page.Paging.Next
	}
	return all, retries, nil
}

// fetchPageWithRetry returns the page, the number of retry attempts beyond
// the first (0 if it succeeded on the first try), and any terminal error.
func (c *Client) fetchPageWithRetry(ctx context.Context, pageURL, rateLimitKey string) (insightsPage, int, error) {
	if c.limiter != nil {
		c.primeBucket(rateLimitKey)
		if allowed, retryAfter, err := c.limiter.Allow(ctx, rateLimitKey, 1); err == nil && !allowed {
			time.Sleep(retryAfter)
		}
	}

	var page insightsPage
	attempt := 0
	op := func() error {
		attempt++
		p, err := c.fetchPage(ctx, pageURL)
		if err == nil {
			page = p
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		if attempt >= c.backoff.MaxAttempts {
			if errors.Is(err, domain.ErrRateLimited) {
				return backoff.Permanent(RateLimitExhausted)
			}
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithMaxRetries(c.newExponential(), uint64(c.backoff.MaxAttempts-1))
	if err := backoff.Retry(op, bo); err != nil {
		return insightsPage{}, attempt - 1, err
	}
	return page, attempt - 1, nil
}

func (c *Client) newExponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.backoff.Base
	eb.Multiplier = c.backoff.Factor
	eb.MaxInterval = c.backoff.MaxDelay
	eb.MaxElapsedTime = 0 // bounded by WithMaxRetries, not elapsed time
	eb.RandomizationFactor = 0
	return eb
}

func (c *Client) jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(c.backoff.JitterMax)))
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrAuthFailed) || errors.Is(err, domain.ErrSchemaMismatch)
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (insightsPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return insightsPage{}, fmt.Errorf("op=adsclient.new_request: %w", err)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.RecordSourceCall("ads", "fetch_insights", "network_error", time.Since(start))
		return insightsPage{}, fmt.Errorf("op=adsclient.do: %w", domain.ErrUpstream5xx)
	}
	defer resp.Body.Close()

	outcome := classifyStatus(resp.StatusCode)
	observability.RecordSourceCall("ads", "fetch_insights", outcome, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return insightsPage{}, fmt.Errorf("op=adsclient.auth: status=%d: %w", resp.StatusCode, domain.ErrAuthFailed)
	case resp.StatusCode == http.StatusTooManyRequests:
		delay := c.retryAfterOrJitteredBackoff(resp.Header.Get("Retry-After"))
		time.Sleep(delay)
		return insightsPage{}, fmt.Errorf("op=adsclient.rate_limited: status=%d: %w", resp.StatusCode, domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		time.Sleep(c.jitter())
		return insightsPage{}, fmt.Errorf("op=adsclient.upstream: status=%d: %w", resp.StatusCode, domain.ErrUpstream5xx)
	case resp.StatusCode >= 400:
		return insightsPage{}, fmt.Errorf("op=adsclient.bad_request: status=%d: %w", resp.StatusCode, domain.ErrSchemaMismatch)
	}

	var page insightsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return insightsPage{}, fmt.Errorf("op=adsclient.decode: %w", domain.ErrSchemaMismatch)
	}
	return page, nil
}

// retryAfterOrJitteredBackoff parses a Retry-After header (delta-seconds
// or an HTTP-date) and falls back to the fixed jitter window when absent
// or unparseable.
func (c *Client) retryAfterOrJitteredBackoff(v string) time.Duration {
	if v == "" {
		return c.jitter()
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return time.Duration(secs)*time.Second + c.jitter()
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d + c.jitter()
		}
	}
	return c.jitter()
}

func classifyStatus(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "ok"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	default:
		return "client_error"
	}
}
