package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 100000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, 10.0, cfg.CostModel.CostBps)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "redis" },
			wantErr: "storage.backend",
		},
		{
			name:    "database backend without postgres dsn",
			mutate:  func(c *Config) { c.Storage.Backend = "database" },
			wantErr: "postgres_dsn",
		},
		{
			name: "database backend without clickhouse dsn",
			mutate: func(c *Config) {
				c.Storage.Backend = "database"
				c.Storage.PostgresDSN = "postgres://localhost/pit"
			},
			wantErr: "clickhouse_dsn",
		},
		{
			name:    "zero backtest budget",
			mutate:  func(c *Config) { c.Budgets.MaxBacktestSeconds = 0 },
			wantErr: "max_backtest_seconds",
		},
		{
			name:    "negative cost bps",
			mutate:  func(c *Config) { c.CostModel.CostBps = -1 },
			wantErr: "cost_bps",
		},
		{
			name:    "non-positive capital",
			mutate:  func(c *Config) { c.Backtest.InitialCapital = 0 },
			wantErr: "initial_capital",
		},
		{
			name: "artifacts enabled with no dir",
			mutate: func(c *Config) {
				c.Artifacts.Enabled = true
				c.Artifacts.Dir = ""
			},
			wantErr: "artifacts.dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
storage:
  backend: database
  postgres_dsn: postgres://localhost:5432/pit
  clickhouse_dsn: clickhouse://localhost:9000/pit
cost_model:
  cost_bps: 25
  slippage_bps: 3
backtest:
  initial_capital: 50000
  seed: 7
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "database", cfg.Storage.Backend)
	assert.Equal(t, 25.0, cfg.CostModel.CostBps)
	assert.Equal(t, 50000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, int64(7), cfg.Backtest.Seed)
	// Unset sections keep defaults.
	assert.Equal(t, 60.0, cfg.Budgets.MaxBacktestSeconds)
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"storage":{"backend":"memory"},"backtest":{"initial_capital":25000,"seed":1}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 25000.0, cfg.Backtest.InitialCapital)
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: redis\n"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
