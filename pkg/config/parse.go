package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Default returns a configuration with every optional field populated.
// Target, start date, domains, and regions have no defaults.
func Default() *Config {
	return &Config{
		Time: TimeWindow{
			DurationDays:    30,
			IntervalSeconds: 300,
		},
		Dimensions: Dimensions{
			TenantID: "default",
		},
		Realism: Realism{
			BurstProbability:   0.05,
			CacheHitRate:       Range{0.85, 0.95},
			AvgObjectSizeKB:    Range{100, 500},
			OriginFailRate:     Range{0.001, 0.01},
			AnomalyProbability: 0.001,
		},
		API: API{
			TimeoutSeconds:       30,
			Retry:                3,
			BackoffFactorSeconds: 1,
			BatchSize:            100,
			BatchGapMs:           10,
			AbortFailRate:        0.5,
			AbortMinTotal:        100,
		},
		Mode: Mode{
			DryRun:    true,
			SaveLocal: true,
			OutputDir: "./output",
		},
		Storage: Storage{
			Path: "./output/cdn_logs.db",
		},
		Scheduler: Scheduler{
			StateFile:         "./state.json",
			RetryDelaySeconds: 60,
		},
		Billing: Billing{
			UnitPrice:     100,
			FluxUnitPrice: 0.8,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// decodeConfig unmarshals YAML (or JSON) over the defaults without validating
func decodeConfig(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	return cfg, nil
}

// ParseConfigYAML parses a Config from YAML bytes and validates it.
// This is used for APIs where config is provided as payload (not via filesystem).
func ParseConfigYAML(data []byte) (*Config, error) {
	cfg, err := decodeConfig(data)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ParseConfigYAMLString parses a Config from a YAML string and validates it.
func ParseConfigYAMLString(yamlText string) (*Config, error) {
	return ParseConfigYAML([]byte(yamlText))
}

// Validate re-checks a configuration, e.g. after CLI flag overrides
func (c *Config) Validate() error {
	if err := validateConfig(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
