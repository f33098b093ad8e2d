package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestComputeDelay_Branches(t *testing.T) {
	cases := []struct {
		name string
		t    Telemetry
		want time.Duration
	}{
		{
			name: "above buffer -> no delay",
			t:    Telemetry{CurrentlyAvailable: 500, MaximumAvailable: 1000, RestoreRate: 50, RequestedQueryCost: 100},
			want: 0,
		},
		{
			name: "below buffer but cost affordable -> no delay",
			t:    Telemetry{CurrentlyAvailable: 150, MaximumAvailable: 1000, RestoreRate: 50, RequestedQueryCost: 100},
			want: 0,
		},
		{
			name: "below buffer and unaffordable -> delay with ceiling and safety margin",
			t:    Telemetry{CurrentlyAvailable: 50, MaximumAvailable: 1000, RestoreRate: 50, RequestedQueryCost: 150},
			// shortage=100, 100/50=2s exactly -> ceil(2)=2s
			want: 2*time.Second + 200*time.Millisecond,
		},
		{
			name: "non-integer shortage rounds up",
			t:    Telemetry{CurrentlyAvailable: 10, MaximumAvailable: 1000, RestoreRate: 50, RequestedQueryCost: 120},
			// shortage=110, 110/50=2.2 -> ceil=3s
			want: 3*time.Second + 200*time.Millisecond,
		},
		{
			name: "missing telemetry -> no delay",
			t:    Telemetry{},
			want: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := computeDelay(tc.t, defaultBufferRatio, 200*time.Millisecond)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestController_ObserveAndDelayFor_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewController(rdb, 0.2, 200*time.Millisecond)
	ctx := context.Background()

	require.Equal(t, time.Duration(0), c.DelayFor(ctx, "shop-1"), "unknown shop has no delay")

	c.Observe(ctx, "shop-1", Telemetry{CurrentlyAvailable: 20, MaximumAvailable: 1000, RestoreRate: 50, RequestedQueryCost: 100})
	delay := c.DelayFor(ctx, "shop-1")
	require.Equal(t, 2*time.Second+200*time.Millisecond, delay)
}

func TestController_ObserveAndDelayFor_LocalFallback(t *testing.T) {
	c := NewController(nil, 0.2, 200*time.Millisecond)
	ctx := context.Background()

	c.Observe(ctx, "shop-2", Telemetry{CurrentlyAvailable: 900, MaximumAvailable: 1000, RestoreRate: 50, RequestedQueryCost: 500})
	require.Equal(t, time.Duration(0), c.DelayFor(ctx, "shop-2"), "currently_available above buffer means no delay")
}

func TestController_NilController(t *testing.T) {
	var c *Controller
	require.Equal(t, time.Duration(0), c.DelayFor(context.Background(), "shop-x"))
	c.Observe(context.Background(), "shop-x", Telemetry{}) // must not panic
}
