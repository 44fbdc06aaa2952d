package server

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/pciledger/audit"
	"github.com/GoCodeAlone/pciledger/config"
	"github.com/GoCodeAlone/pciledger/kv"
	"github.com/GoCodeAlone/pciledger/report"
	"github.com/GoCodeAlone/pciledger/review"
	"github.com/GoCodeAlone/pciledger/server/api"
	"github.com/GoCodeAlone/pciledger/settings"
	"github.com/GoCodeAlone/pciledger/task"
)

const testSecret = "test-secret-key-1234567890"

// newHandlers wires the API handlers over an in-memory store.
func newHandlers(t *testing.T) (*api.Handlers, *audit.Recorder) {
	t.Helper()
	store := kv.NewMemoryStore()
	auditStore := audit.NewKVStore(store)
	rec := audit.NewRecorder(auditStore, nil)
	tasks := task.NewService(task.NewKVStore(store), rec, nil)
	rev := review.NewService(tasks, store, rec, nil)
	st := settings.NewService(store, rec, settings.Defaults(settings.DefaultAccount), nil)
	schema, err := api.NewVerificationSchema()
	if err != nil {
		t.Fatalf("NewVerificationSchema: %v", err)
	}
	return &api.Handlers{
		Tasks:      tasks,
		Review:     rev,
		Settings:   st,
		Reports:    report.NewAggregator(tasks, auditStore, rev, st, nil),
		Audit:      auditStore,
		Schema:     schema,
		Thresholds: review.DefaultThresholds(),
		Version:    "test",
		StartAt:    time.Now(),
	}, rec
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := *config.DefaultConfig()
	cfg.Server.Addr = ":0"
	cfg.Auth.AdminUser = "admin"
	cfg.Auth.AdminPass = string(hash)
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.TokenTTL = time.Hour
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	h, _ := newHandlers(t)
	return New(testConfig(t), h, nil)
}
