// Command pciledgerd is the pciledger server daemon.
// It loads the YAML config, opens the configured store and serves the
// REST API, SSE audit feed and metrics until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/GoCodeAlone/pciledger/audit"
	"github.com/GoCodeAlone/pciledger/config"
	"github.com/GoCodeAlone/pciledger/internal/logging"
	"github.com/GoCodeAlone/pciledger/internal/version"
	"github.com/GoCodeAlone/pciledger/kv"
	"github.com/GoCodeAlone/pciledger/metrics"
	"github.com/GoCodeAlone/pciledger/report"
	"github.com/GoCodeAlone/pciledger/review"
	"github.com/GoCodeAlone/pciledger/server"
	"github.com/GoCodeAlone/pciledger/server/api"
	"github.com/GoCodeAlone/pciledger/server/ws"
	"github.com/GoCodeAlone/pciledger/settings"
	"github.com/GoCodeAlone/pciledger/task"
)

var configPath = flag.String("config", "pciledger.yaml", "path to config file")

func main() {
	flag.Parse()
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pciledgerd: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path, falling back to defaults plus environment when
// the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg = config.DefaultConfig()
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureDataDir creates the parent directory of a file-backed SQLite DSN.
func ensureDataDir(st config.StorageConfig) error {
	if st.Driver != kv.DriverSQLite || st.DSN == ":memory:" || strings.HasPrefix(st.DSN, "file:") {
		return nil
	}
	dir := filepath.Dir(st.DSN)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}

func run(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting pciledgerd",
		"version", version.Version,
		"commit", version.Commit,
		"storage", cfg.Storage.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ensureDataDir(cfg.Storage); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := kv.Open(ctx, cfg.Storage.KV(), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close", "err", err)
		}
	}()

	registry, m := metrics.NewRegistry()

	auditStore := audit.NewKVStore(store)
	recorder := audit.NewRecorder(auditStore, logger, audit.WithMetrics(m))
	tasks := task.NewService(task.NewKVStore(store), recorder, logger)
	reviews := review.NewService(tasks, store, recorder, logger, review.WithMetrics(m))
	settingsSvc := settings.NewService(store, recorder, cfg.Defaults.Settings(settings.DefaultAccount), logger)
	reports := report.NewAggregator(tasks, auditStore, reviews, settingsSvc, logger, report.WithMetrics(m))

	schema, err := api.NewVerificationSchema()
	if err != nil {
		return err
	}

	hub := ws.NewHub(logger)
	detach := hub.Attach(recorder)
	defer detach()

	srv := server.New(*cfg, &api.Handlers{
		Tasks:      tasks,
		Review:     reviews,
		Settings:   settingsSvc,
		Reports:    reports,
		Audit:      auditStore,
		Schema:     schema,
		Thresholds: review.DefaultThresholds(),
		Logger:     logger,
		Version:    version.Version,
		StartAt:    time.Now(),
	}, logger)
	srv.SetHub(hub)
	srv.SetMetrics(m, registry)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop", "err", err)
	}
	logger.Info("shutdown complete")
	return nil
}
