package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SourceDefaults holds per-source tunables that rarely change between
// deployments and are more comfortably reviewed in a checked-in file than as
// an ever-growing pile of env vars. Values here are overridden by the
// corresponding env var in Config when that env var is explicitly set;
// Load callers are expected to apply overrides after LoadSourceDefaults.
type SourceDefaults struct {
	Commerce struct {
		APIVersion     string `yaml:"api_version"`
		WindowFillDays int    `yaml:"window_fill_days"`
	} `yaml:"commerce"`
	Ads struct {
		AttributionWindowDays int `yaml:"attribution_window_days"`
	} `yaml:"ads"`
}

// LoadSourceDefaults reads per-source defaults from a YAML file. A missing
// file is not an error: callers fall back to Config's env-sourced defaults.
func LoadSourceDefaults(path string) (SourceDefaults, error) {
	var sd SourceDefaults
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sd, nil
		}
		return sd, fmt.Errorf("op=config.LoadSourceDefaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &sd); err != nil {
		return sd, fmt.Errorf("op=config.LoadSourceDefaults.unmarshal: %w", err)
	}
	return sd, nil
}

// ApplyDefaults overlays any non-zero SourceDefaults fields onto cfg,
// without clobbering values an operator has set explicitly via env vars.
// Used at startup: env parse first, then overlay file defaults for every
// field whose env var is unset.
func (sd SourceDefaults) ApplyDefaults(cfg *Config) {
	if _, set := os.LookupEnv("COMMERCE_API_VERSION"); sd.Commerce.APIVersion != "" && !set {
		cfg.CommerceAPIVersion = sd.Commerce.APIVersion
	}
	if _, set := os.LookupEnv("COMMERCE_WINDOW_FILL_DAYS"); sd.Commerce.WindowFillDays > 0 && !set {
		cfg.CommerceWindowFillDays = sd.Commerce.WindowFillDays
	}
	if _, set := os.LookupEnv("ADS_ATTRIBUTION_WINDOW_DAYS"); sd.Ads.AttributionWindowDays > 0 && !set {
		cfg.AdsAttributionWindowDays = sd.Ads.AttributionWindowDays
	}
}
