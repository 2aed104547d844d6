package application

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// SweepConfig tunes the reconciliation sweep.
type SweepConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	BatchSize       int `yaml:"batch_size"`
}

// LoadSweepConfig loads sweep settings from yaml or env. The SWEEP_CONFIG
// env var points at an optional yaml file; env vars fill the gaps.
func LoadSweepConfig() (SweepConfig, error) {
	cfg := SweepConfig{
		IntervalSeconds: getenvIntDefault("SWEEP_INTERVAL_SECONDS", 300),
		BatchSize:       getenvIntDefault("SWEEP_BATCH_SIZE", 100),
	}

	if path := os.Getenv("SWEEP_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 300
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return cfg, nil
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
