// Package config defines the pciledger application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/pciledger/kv"
	"github.com/GoCodeAlone/pciledger/settings"
)

// Config is the top-level pciledger configuration.
type Config struct {
	Server    ServerConfig   `json:"server" yaml:"server"`
	Auth      AuthConfig     `json:"auth" yaml:"auth"`
	Storage   StorageConfig  `json:"storage" yaml:"storage"`
	Defaults  DefaultsConfig `json:"defaults" yaml:"defaults"`
	Metrics   MetricsConfig  `json:"metrics" yaml:"metrics"`
	LogLevel  string         `json:"log_level" yaml:"log_level"`
	LogFormat string         `json:"log_format" yaml:"log_format"` // "text" or "json"
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret string        `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string        `json:"admin_user" yaml:"admin_user"`
	AdminPass string        `json:"admin_pass" yaml:"admin_pass"` // bcrypt hash
	TokenTTL  time.Duration `json:"token_ttl" yaml:"token_ttl"`
}

// StorageConfig selects the key-value backend.
type StorageConfig struct {
	Driver   string `json:"driver" yaml:"driver"` // "memory", "sqlite", "postgres"
	DSN      string `json:"dsn" yaml:"dsn"`
	MaxConns int32  `json:"max_conns,omitempty" yaml:"max_conns"`
}

// DefaultsConfig seeds settings for accounts that have none stored.
type DefaultsConfig struct {
	HourlyRate      float64 `json:"hourly_rate" yaml:"hourly_rate"`
	UnitToHourRatio float64 `json:"unit_to_hour_ratio" yaml:"unit_to_hour_ratio"`
	Currency        string  `json:"currency" yaml:"currency"`
	Preset          string  `json:"preset,omitempty" yaml:"preset"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	d := settings.Defaults("")
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
			TokenTTL:  24 * time.Hour,
		},
		Storage: StorageConfig{
			Driver: kv.DriverSQLite,
			DSN:    "./data/pciledger.db",
		},
		Defaults: DefaultsConfig{
			HourlyRate:      d.DefaultHourlyRate,
			UnitToHourRatio: d.UnitToHourRatio,
			Currency:        d.Currency,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML config file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PCILEDGER_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("PCILEDGER_ADMIN_PASS"); v != "" {
		c.Auth.AdminPass = v
	}
	if v := getenv("PCILEDGER_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := getenv("PCILEDGER_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case kv.DriverMemory, kv.DriverSQLite, kv.DriverPostgres:
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != kv.DriverMemory && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Auth.AdminUser) == "" {
		return fmt.Errorf("auth.admin_user is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if err := c.Defaults.Settings("").Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}

// Settings converts the defaults section into a settings template.
func (d DefaultsConfig) Settings(accountID string) settings.Settings {
	s := settings.Settings{
		AccountID:         accountID,
		DefaultHourlyRate: d.HourlyRate,
		UnitToHourRatio:   d.UnitToHourRatio,
		Currency:          strings.ToUpper(d.Currency),
	}
	if d.Preset != "" {
		if p, err := s.ApplyPreset(d.Preset); err == nil {
			s = p
		} else {
			s.Preset = d.Preset
		}
	}
	return s
}

// KV returns the storage section as a kv.Config.
func (s StorageConfig) KV() kv.Config {
	return kv.Config{Driver: s.Driver, DSN: s.DSN, MaxConns: s.MaxConns}
}
