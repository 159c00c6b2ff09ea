// Package config loads the threadmill configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/daviddao/threadmill/pkg/coord"
	"github.com/daviddao/threadmill/pkg/model"
	"github.com/daviddao/threadmill/pkg/temperature"
)

const (
	// Dir holds the project's config and database.
	Dir = ".threadmill"
	// DefaultPath is where the CLI looks for the config file.
	DefaultPath = Dir + "/config.yaml"
	// DefaultDBPath is the default SQLite database.
	DefaultDBPath = Dir + "/threadmill.db"
)

// Config is the whole configuration.
type Config struct {
	Temperature TemperatureConfig `yaml:"temperature"`
	Claims      ClaimsConfig      `yaml:"claims"`
	Escalation  EscalationConfig  `yaml:"escalation"`
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// TemperatureConfig holds the model coefficients and band thresholds
// side by side in one YAML section.
type TemperatureConfig struct {
	temperature.Coefficients `yaml:",inline"`
	temperature.Thresholds   `yaml:",inline"`
}

type ClaimsConfig struct {
	ExpiryMinutes      int `yaml:"expiry_minutes"` // 0 disables expiry
	MaxAgentsPerThread int `yaml:"max_agents_per_thread"`
}

type EscalationConfig struct {
	AutoEscalateAfterCycles int `yaml:"auto_escalate_after_cycles"`
	// ResponseTimeByPriority maps a priority name to a duration string.
	ResponseTimeByPriority map[string]string `yaml:"response_time_by_priority"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type MaintenanceConfig struct {
	Interval string `yaml:"interval"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Temperature: TemperatureConfig{
			Coefficients: temperature.DefaultCoefficients(),
			Thresholds:   temperature.DefaultThresholds(),
		},
		Claims: ClaimsConfig{
			ExpiryMinutes:      60,
			MaxAgentsPerThread: 1,
		},
		Escalation: EscalationConfig{
			AutoEscalateAfterCycles: 3,
			ResponseTimeByPriority: map[string]string{
				"critical": "15m",
				"high":     "1h",
				"medium":   "4h",
				"low":      "24h",
			},
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:7420",
			ReadTimeout:  "10s",
			WriteTimeout: "10s",
			MaxBodyBytes: 1 << 20,
		},
		Store:       StoreConfig{Path: DefaultDBPath},
		Maintenance: MaintenanceConfig{Interval: "1m"},
		Logging:     LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes c to path, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("THREADMILL_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("THREADMILL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("THREADMILL_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

var validLevels = []string{"debug", "info", "warn", "error"}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Temperature.Coefficients.Validate(); err != nil {
		return fmt.Errorf("temperature: %w", err)
	}
	if err := c.Temperature.Thresholds.Validate(); err != nil {
		return fmt.Errorf("temperature: %w", err)
	}
	if c.Claims.ExpiryMinutes < 0 {
		return fmt.Errorf("claims.expiry_minutes must be >= 0, got %d", c.Claims.ExpiryMinutes)
	}
	if c.Claims.MaxAgentsPerThread < 1 {
		return fmt.Errorf("claims.max_agents_per_thread must be >= 1, got %d", c.Claims.MaxAgentsPerThread)
	}
	if c.Escalation.AutoEscalateAfterCycles < 0 {
		return fmt.Errorf("escalation.auto_escalate_after_cycles must be >= 0, got %d", c.Escalation.AutoEscalateAfterCycles)
	}
	if _, err := c.ResponseTimes(); err != nil {
		return err
	}
	for name, v := range map[string]string{
		"server.read_timeout":  c.Server.ReadTimeout,
		"server.write_timeout": c.Server.WriteTimeout,
		"maintenance.interval": c.Maintenance.Interval,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, v)
		}
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	level := strings.ToLower(c.Logging.Level)
	for _, l := range validLevels {
		if level == l {
			return nil
		}
	}
	return fmt.Errorf("invalid logging.level %q (valid: %v)", c.Logging.Level, validLevels)
}

// ResponseTimes parses the per-priority response times.
func (c *Config) ResponseTimes() (map[model.Priority]time.Duration, error) {
	out := make(map[model.Priority]time.Duration, len(c.Escalation.ResponseTimeByPriority))
	for name, v := range c.Escalation.ResponseTimeByPriority {
		p, err := model.ParsePriority(name)
		if err != nil {
			return nil, fmt.Errorf("escalation.response_time_by_priority: %w", err)
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("escalation.response_time_by_priority.%s: %w", name, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("escalation.response_time_by_priority.%s must be positive, got %s", name, v)
		}
		out[p] = d
	}
	return out, nil
}

// ClaimExpiry returns the claim expiry as a duration.
func (c *Config) ClaimExpiry() time.Duration {
	return time.Duration(c.Claims.ExpiryMinutes) * time.Minute
}

// MaintenanceInterval returns the maintenance period, one minute if unparsable.
func (c *Config) MaintenanceInterval() time.Duration {
	return durationOr(c.Maintenance.Interval, time.Minute)
}

// ReadTimeout returns the server read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return durationOr(c.Server.ReadTimeout, 10*time.Second)
}

// WriteTimeout returns the server write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return durationOr(c.Server.WriteTimeout, 10*time.Second)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Policy assembles the maintenance policy. Call after Validate.
func (c *Config) Policy() coord.Policy {
	rt, _ := c.ResponseTimes()
	return coord.Policy{
		ClaimExpiry:       c.ClaimExpiry(),
		ResponseTime:      rt,
		AutoEscalateAfter: c.Escalation.AutoEscalateAfterCycles,
	}
}

// Options returns the aggregate options the configuration implies.
func (c *Config) Options() []coord.Option {
	return []coord.Option{
		coord.WithCoefficients(c.Temperature.Coefficients),
		coord.WithThresholds(c.Temperature.Thresholds),
	}
}
