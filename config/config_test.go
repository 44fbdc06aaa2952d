package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pciledger.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
auth:
  admin_user: ops
  token_ttl: 2h
storage:
  driver: memory
defaults:
  hourly_rate: 120
  unit_to_hour_ratio: 1.5
  currency: eur
log_format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.AdminUser != "ops" || cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level default lost: %q", cfg.LogLevel)
	}
	s := cfg.Defaults.Settings("acme")
	if s.DefaultHourlyRate != 120 || s.Currency != "EUR" || s.AccountID != "acme" {
		t.Errorf("settings = %+v", s)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"driver", "storage:\n  driver: mongo\n", "storage.driver"},
		{"dsn", "storage:\n  driver: postgres\n  dsn: \"\"\n", "storage.dsn"},
		{"rate", "defaults:\n  hourly_rate: -1\n", "defaults"},
		{"currency", "defaults:\n  currency: ZZ\n", "defaults"},
		{"admin", "auth:\n  admin_user: \"\"\n", "admin_user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PCILEDGER_JWT_SECRET": "s3cret",
		"PCILEDGER_DSN":        "postgres://db/ledger",
		"PCILEDGER_ADDR":       ":7000",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Storage.DSN != "postgres://db/ledger" {
		t.Errorf("dsn = %q", cfg.Storage.DSN)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.AdminPass != "" {
		t.Errorf("admin pass should be untouched, got %q", cfg.Auth.AdminPass)
	}
}

func TestDefaultsPreset(t *testing.T) {
	d := DefaultsConfig{HourlyRate: 1, UnitToHourRatio: 1, Currency: "USD", Preset: "fintech"}
	s := d.Settings("x")
	if s.DefaultHourlyRate != 150 || s.Preset != "fintech" {
		t.Errorf("preset not applied: %+v", s)
	}
}
