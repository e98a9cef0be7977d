package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "claims.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.DamageModel)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, time.Minute, cfg.Agent.Timeout())
	assert.Equal(t, 30*time.Second, cfg.Controls.CacheTTL())
	assert.Equal(t, "24h", cfg.Monitoring.Timeframe)
	assert.Equal(t, 5, cfg.Monitoring.QueueAgingThreshold)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.InDelta(t, 94.0, cfg.Estimate.LaborRate, 1e-9)

	assert.InDelta(t, 0.75, cfg.Routing.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 7, cfg.Routing.SeverityThreshold, 1e-9)
	assert.InDelta(t, 1500, cfg.Routing.PayoutCapAuto, 1e-9)
	assert.InDelta(t, 3000, cfg.Routing.PayoutCapSenior, 1e-9)
	assert.False(t, cfg.Routing.DualReviewEnabled)
	assert.InDelta(t, 0.1, cfg.Routing.QASampleRate, 1e-9)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/claims
log:
  level: debug
  format: console
routing:
  severity_threshold: 8
  dual_review_enabled: true
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 8, cfg.Routing.SeverityThreshold, 1e-9)
	assert.True(t, cfg.Routing.DualReviewEnabled)
	// Defaults still apply for unset values
	assert.InDelta(t, 1500, cfg.Routing.PayoutCapAuto, 1e-9)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("CLAIMS_STORE_DRIVER", "postgres")
	t.Setenv("CLAIMS_LOG_LEVEL", "warn")
	t.Setenv("CLAIMS_ROUTING_QA_SAMPLE_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.InDelta(t, 0.25, cfg.Routing.QASampleRate, 1e-9)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "claims.db"
	cfg.Routing.ConfidenceThreshold = 0.75
	cfg.Routing.SeverityThreshold = 7
	cfg.Routing.PayoutCapAuto = 1500
	cfg.Routing.PayoutCapSenior = 3000
	cfg.Routing.QASampleRate = 0.1
	cfg.Estimate.LaborRate = 94
	cfg.Agent.TimeoutSecs = 60
	cfg.Anthropic.Key = "sk-test"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"serve ok", "serve", func(*Config) {}, ""},
		{"offline needs no key", "offline", func(c *Config) { c.Anthropic.Key = "" }, ""},
		{"intake needs key", "intake", func(c *Config) { c.Anthropic.Key = "" }, "anthropic.key"},
		{"bad driver", "offline", func(c *Config) { c.Store.Driver = "mysql" }, "unknown store.driver"},
		{"no dsn", "offline", func(c *Config) { c.Store.DatabaseURL = "" }, "database_url"},
		{"bad routing", "offline", func(c *Config) { c.Routing.QASampleRate = 2 }, "routing defaults"},
		{"bad labor rate", "offline", func(c *Config) { c.Estimate.LaborRate = 0 }, "labor_rate"},
		{"bad port", "serve", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero timeout", "intake", func(c *Config) { c.Agent.TimeoutSecs = 0 }, "timeout_secs"},
		{"unknown mode", "batch", func(*Config) {}, "unknown validation mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
