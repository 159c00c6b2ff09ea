package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/threadmill/pkg/model"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.7, cfg.Temperature.Hot)
	assert.Equal(t, 0.3, cfg.Temperature.Warm)
	assert.Equal(t, 24.0, cfg.Temperature.HalfLifeHours)
	assert.Equal(t, time.Hour, cfg.ClaimExpiry())
	assert.Equal(t, time.Minute, cfg.MaintenanceInterval())
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	t.Setenv("THREADMILL_DB", "")
	t.Setenv("THREADMILL_ADDR", "")
	t.Setenv("THREADMILL_LOG_LEVEL", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("THREADMILL_DB", "")
	t.Setenv("THREADMILL_ADDR", "")
	t.Setenv("THREADMILL_LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
temperature:
  alpha: 0.4
  half_life_hours: 12
  hot_threshold: 0.8
claims:
  expiry_minutes: 15
escalation:
  auto_escalate_after_cycles: 5
  response_time_by_priority:
    critical: 5m
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.4, cfg.Temperature.Alpha)
	assert.Equal(t, 0.3, cfg.Temperature.Beta, "unset keys keep defaults")
	assert.Equal(t, 12.0, cfg.Temperature.HalfLifeHours)
	assert.Equal(t, 0.8, cfg.Temperature.Hot)
	assert.Equal(t, 0.3, cfg.Temperature.Warm)
	assert.Equal(t, 15*time.Minute, cfg.ClaimExpiry())
	assert.Equal(t, "debug", cfg.Logging.Level)

	p := cfg.Policy()
	assert.Equal(t, 15*time.Minute, p.ClaimExpiry)
	assert.Equal(t, 5, p.AutoEscalateAfter)
	assert.Equal(t, 5*time.Minute, p.ResponseTime[model.Critical])
	assert.Len(t, cfg.Options(), 2)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("THREADMILL_DB", "/tmp/x.db")
	t.Setenv("THREADMILL_ADDR", ":9999")
	t.Setenv("THREADMILL_LOG_LEVEL", "WARN")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Store.Path)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("THREADMILL_DB", "")
	t.Setenv("THREADMILL_ADDR", "")
	t.Setenv("THREADMILL_LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Claims.ExpiryMinutes = 42
	cfg.Temperature.Gamma = 0.25
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"hot below warm", func(c *Config) { c.Temperature.Hot, c.Temperature.Warm = 0.2, 0.5 }},
		{"hot above one", func(c *Config) { c.Temperature.Hot = 1.5 }},
		{"zero half-life", func(c *Config) { c.Temperature.HalfLifeHours = 0 }},
		{"negative alpha", func(c *Config) { c.Temperature.Alpha = -1 }},
		{"negative expiry", func(c *Config) { c.Claims.ExpiryMinutes = -1 }},
		{"no agents per thread", func(c *Config) { c.Claims.MaxAgentsPerThread = 0 }},
		{"negative cycles", func(c *Config) { c.Escalation.AutoEscalateAfterCycles = -2 }},
		{"unknown priority", func(c *Config) { c.Escalation.ResponseTimeByPriority["urgent"] = "1m" }},
		{"bad response time", func(c *Config) { c.Escalation.ResponseTimeByPriority["low"] = "soon" }},
		{"zero interval", func(c *Config) { c.Maintenance.Interval = "0s" }},
		{"bad timeout", func(c *Config) { c.Server.ReadTimeout = "fast" }},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"no body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }},
		{"empty store", func(c *Config) { c.Store.Path = "" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("temperature:\n  warm_threshold: 0.9\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("claims: [not, a, map]\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
