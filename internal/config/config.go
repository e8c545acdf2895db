// Package config loads and validates run configuration from YAML or JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Budgets   BudgetConfig    `json:"budgets" yaml:"budgets"`
	CostModel CostModelConfig `json:"cost_model" yaml:"cost_model"`
	Backtest  BacktestConfig  `json:"backtest" yaml:"backtest"`
	Artifacts ArtifactsConfig `json:"artifacts" yaml:"artifacts"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Backend is "memory" or "database".
	Backend       string `json:"backend" yaml:"backend"`
	PostgresDSN   string `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`
	ClickHouseDSN string `json:"clickhouse_dsn,omitempty" yaml:"clickhouse_dsn,omitempty"`
}

// BudgetConfig caps estimated compute per operation, in seconds.
type BudgetConfig struct {
	MaxBacktestSeconds   float64 `json:"max_backtest_seconds" yaml:"max_backtest_seconds"`
	MaxWorldStateSeconds float64 `json:"max_world_state_seconds" yaml:"max_world_state_seconds"`
	MaxTuningSeconds     float64 `json:"max_tuning_seconds" yaml:"max_tuning_seconds"`
	MaxCustomCodeSeconds float64 `json:"max_custom_code_seconds" yaml:"max_custom_code_seconds"`
}

// CostModelConfig sets execution cost assumptions for simulated fills.
type CostModelConfig struct {
	CostBps     float64 `json:"cost_bps" yaml:"cost_bps"`
	SlippageBps float64 `json:"slippage_bps" yaml:"slippage_bps"`
}

// BacktestConfig sets simulation defaults.
type BacktestConfig struct {
	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
	Seed           int64   `json:"seed" yaml:"seed"`
}

// ArtifactsConfig controls where run outputs land.
type ArtifactsConfig struct {
	Dir     string `json:"dir" yaml:"dir"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Addr      string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Default returns a configuration suitable for local research runs.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Backend: "memory"},
		Budgets: BudgetConfig{
			MaxBacktestSeconds:   60,
			MaxWorldStateSeconds: 120,
			MaxTuningSeconds:     600,
			MaxCustomCodeSeconds: 60,
		},
		CostModel: CostModelConfig{CostBps: 10, SlippageBps: 5},
		Backtest:  BacktestConfig{InitialCapital: 100000, Seed: 42},
		Artifacts: ArtifactsConfig{Dir: "artifacts", Enabled: true},
		Metrics:   MetricsConfig{Namespace: "market_pit_lab", Addr: ":9090"},
	}
}

// LoadFromFile loads configuration from a file, trying YAML then JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "database":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the database backend")
		}
		if c.Storage.ClickHouseDSN == "" {
			return fmt.Errorf("storage.clickhouse_dsn is required for the database backend")
		}
	default:
		return fmt.Errorf("storage.backend must be \"memory\" or \"database\", got %q", c.Storage.Backend)
	}

	if c.Budgets.MaxBacktestSeconds <= 0 {
		return fmt.Errorf("budgets.max_backtest_seconds must be positive")
	}
	if c.Budgets.MaxWorldStateSeconds <= 0 {
		return fmt.Errorf("budgets.max_world_state_seconds must be positive")
	}
	if c.Budgets.MaxTuningSeconds <= 0 {
		return fmt.Errorf("budgets.max_tuning_seconds must be positive")
	}
	if c.Budgets.MaxCustomCodeSeconds <= 0 {
		return fmt.Errorf("budgets.max_custom_code_seconds must be positive")
	}

	if c.CostModel.CostBps < 0 {
		return fmt.Errorf("cost_model.cost_bps must be non-negative")
	}
	if c.CostModel.SlippageBps < 0 {
		return fmt.Errorf("cost_model.slippage_bps must be non-negative")
	}

	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be positive")
	}

	if c.Artifacts.Enabled && c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts.dir is required when artifacts are enabled")
	}
	return nil
}
