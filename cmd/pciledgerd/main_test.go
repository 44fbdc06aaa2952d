package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/GoCodeAlone/pciledger/config"
	"github.com/GoCodeAlone/pciledger/kv"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Addr != config.DefaultConfig().Server.Addr {
		t.Errorf("expected default addr, got %q", cfg.Server.Addr)
	}
}

func TestLoadConfig_InvalidFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: mongo\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	st := config.StorageConfig{Driver: kv.DriverSQLite, DSN: filepath.Join(dir, "ledger.db")}
	if err := ensureDataDir(st); err != nil {
		t.Fatalf("ensureDataDir: %v", err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("expected %s to exist: %v", dir, err)
	}

	if err := ensureDataDir(config.StorageConfig{Driver: kv.DriverMemory}); err != nil {
		t.Errorf("memory driver: %v", err)
	}
}
