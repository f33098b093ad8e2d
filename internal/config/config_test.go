package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	clearIngestEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.PollIntervalMS)
	assert.Equal(t, "2025-01", cfg.CommerceAPIVersion)
	assert.Equal(t, 7, cfg.CommerceWindowFillDays)
	assert.Equal(t, 7, cfg.AdsAttributionWindowDays)
	assert.Equal(t, 60, cfg.FreshSchedMinutesCommerce)
}

func TestLoad_FloorsAppliedBelowMinimum(t *testing.T) {
	clearIngestEnv(t)
	t.Setenv("POLL_INTERVAL_MS", "200")
	t.Setenv("FRESH_SCHED_MINUTES_COMMERCE", "1")
	t.Setenv("ADS_ATTRIBUTION_WINDOW_DAYS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.PollIntervalMS, "poll interval floors to 1s")
	assert.Equal(t, 5, cfg.FreshSchedMinutesCommerce, "fresh-sched floors to 5m")
	assert.Equal(t, 1, cfg.AdsAttributionWindowDays, "attribution window floors to 1 day")
}

func TestFreshSchedInterval(t *testing.T) {
	cfg := Config{FreshSchedMinutesCommerce: 60, FreshSchedMinutesAds: 45}
	assert.Equal(t, 60*60_000_000_000, int(cfg.FreshSchedInterval("commerce")))
	assert.Equal(t, 45*60_000_000_000, int(cfg.FreshSchedInterval("ads")))
	assert.Equal(t, 60*60_000_000_000, int(cfg.FreshSchedInterval("unknown")))
}

func TestLoadSourceDefaults_MissingFileIsNotAnError(t *testing.T) {
	sd, err := LoadSourceDefaults("/nonexistent/sources.yaml")
	require.NoError(t, err)
	assert.Equal(t, SourceDefaults{}, sd)
}

func clearIngestEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"POLL_INTERVAL_MS", "COMMERCE_API_VERSION", "COMMERCE_WINDOW_FILL_DAYS",
		"ADS_ATTRIBUTION_WINDOW_DAYS", "FRESH_SCHED_MINUTES_COMMERCE",
		"FRESH_SCHED_MINUTES_ADS",
	} {
		_ = os.Unsetenv(k)
	}
}
