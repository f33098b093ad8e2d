// Package throttle implements the commerce GraphQL throttle controller
// (§4.7): a purely reactive delay computed from the cost telemetry each
// response carries, shared across dispatcher replicas via Redis so they
// don't independently burn through the same shop's budget.
package throttle

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Telemetry is the cost telemetry a commerce GraphQL response carries.
type Telemetry struct {
	CurrentlyAvailable float64
	MaximumAvailable   float64
	RestoreRate        float64 // points/sec
	RequestedQueryCost float64
}

// defaultBufferRatio is the fraction of MaximumAvailable kept in reserve before
// the controller starts computing a delay.
const defaultBufferRatio = 0.2

// Controller computes and remembers the delay to apply before a shop's
// next commerce GraphQL call. Grounded on RedisLuaLimiter's nil-safe,
// mutex-guarded shape, with the token-bucket algorithm replaced by the
// §4.7 reactive formula: it reads telemetry instead of pre-budgeting.
type Controller struct {
	redis       *redis.Client
	mu          sync.RWMutex
	local       map[string]Telemetry // fallback when redis is nil
	bufferRatio float64
	safetyMargin time.Duration
}

// NewController constructs a Controller. rdb may be nil, in which case
// telemetry is kept in local process memory only (fine for a single
// dispatcher replica, not shared across replicas).
func NewController(rdb *redis.Client, bufferRatio float64, safetyMargin time.Duration) *Controller {
	if bufferRatio <= 0 {
		bufferRatio = defaultBufferRatio
	}
	return &Controller{
		redis:        rdb,
		local:        map[string]Telemetry{},
		bufferRatio:  bufferRatio,
		safetyMargin: safetyMargin,
	}
}

// Observe records the telemetry from a response for shopKey, for use on the
// following call.
func (c *Controller) Observe(ctx context.Context, shopKey string, t Telemetry) {
	if c == nil {
		return
	}
	if c.redis != nil {
		b, err := json.Marshal(t)
		if err != nil {
			slog.Warn("throttle: failed to marshal telemetry", slog.String("shop", shopKey), slog.Any("error", err))
			return
		}
		if err := c.redis.Set(ctx, redisKey(shopKey), b, 10*time.Minute).Err(); err != nil {
			slog.Warn("throttle: failed to write telemetry to redis", slog.String("shop", shopKey), slog.Any("error", err))
		}
		return
	}
	c.mu.Lock()
	c.local[shopKey] = t
	c.mu.Unlock()
}

// DelayFor returns the delay to apply before the next call for shopKey,
// given the most recently observed telemetry. Unknown or missing telemetry
// yields zero delay: the server will surface failures directly.
func (c *Controller) DelayFor(ctx context.Context, shopKey string) time.Duration {
	if c == nil {
		return 0
	}
	t, ok := c.lookup(ctx, shopKey)
	if !ok {
		return 0
	}
	return computeDelay(t, c.bufferRatio, c.safetyMargin)
}

func (c *Controller) lookup(ctx context.Context, shopKey string) (Telemetry, bool) {
	if c.redis != nil {
		b, err := c.redis.Get(ctx, redisKey(shopKey)).Bytes()
		if err != nil {
			if err != redis.Nil {
				slog.Warn("throttle: failed to read telemetry from redis", slog.String("shop", shopKey), slog.Any("error", err))
			}
			return Telemetry{}, false
		}
		var t Telemetry
		if err := json.Unmarshal(b, &t); err != nil {
			slog.Warn("throttle: failed to unmarshal telemetry", slog.String("shop", shopKey), slog.Any("error", err))
			return Telemetry{}, false
		}
		return t, true
	}
	c.mu.RLock()
	t, ok := c.local[shopKey]
	c.mu.RUnlock()
	return t, ok
}

// computeDelay implements the §4.7 formula exactly:
//
//	buffer = 20% of maximum_available
//	no delay if currently_available > buffer
//	no delay if requested_query_cost <= currently_available
//	else delay = ceil((cost - available) / restore_rate) seconds + safety margin
func computeDelay(t Telemetry, bufferRatio float64, safetyMargin time.Duration) time.Duration {
	if t.MaximumAvailable <= 0 || t.RestoreRate <= 0 {
		return 0
	}
	buffer := bufferRatio * t.MaximumAvailable
	if t.CurrentlyAvailable > buffer {
		return 0
	}
	if t.RequestedQueryCost <= t.CurrentlyAvailable {
		return 0
	}
	shortage := t.RequestedQueryCost - t.CurrentlyAvailable
	seconds := math.Ceil(shortage / t.RestoreRate)
	return time.Duration(seconds)*time.Second + safetyMargin
}

func redisKey(shopKey string) string {
	return "commerce_throttle:" + shopKey
}
