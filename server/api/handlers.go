// Package api implements the pciledger REST handlers.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/audit"
	"github.com/GoCodeAlone/pciledger/report"
	"github.com/GoCodeAlone/pciledger/review"
	"github.com/GoCodeAlone/pciledger/settings"
	"github.com/GoCodeAlone/pciledger/task"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Tasks      *task.Service
	Review     *review.Service
	Settings   *settings.Service
	Reports    *report.Aggregator
	Audit      audit.Store
	Schema     *VerificationSchema
	Thresholds review.Thresholds
	Logger     *slog.Logger
	Version    string
	StartAt    time.Time
}

// RegisterRoutes registers all protected API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", h.patchTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)
	mux.HandleFunc("PUT /api/tasks/{id}/factors", h.updateFactors)
	mux.HandleFunc("POST /api/tasks/{id}/verification", h.applyVerification)
	mux.HandleFunc("POST /api/tasks/{id}/approve", h.approveTask)
	mux.HandleFunc("POST /api/tasks/{id}/reject", h.rejectTask)
	mux.HandleFunc("POST /api/tasks/{id}/review", h.markReviewed)
	mux.HandleFunc("GET /api/tasks/{id}/comments", h.listComments)
	mux.HandleFunc("POST /api/tasks/{id}/comments", h.addComment)
	mux.HandleFunc("GET /api/tasks/{id}/audit", h.taskAudit)
	mux.HandleFunc("GET /api/tasks/{id}/flag-suggestions", h.flagSuggestions)

	mux.HandleFunc("GET /api/flags", h.listFlags)
	mux.HandleFunc("POST /api/flags", h.createFlag)
	mux.HandleFunc("POST /api/flags/{id}/resolve", h.resolveFlag)
	mux.HandleFunc("POST /api/flags/{id}/notes", h.annotateFlag)

	mux.HandleFunc("GET /api/settings", h.getSettings)
	mux.HandleFunc("PUT /api/settings", h.updateSettings)
	mux.HandleFunc("GET /api/settings/presets", h.listPresets)

	mux.HandleFunc("GET /api/reports", h.getReport)
	mux.HandleFunc("GET /api/trends", h.getTrends)
	mux.HandleFunc("GET /api/kpis", h.getKPIs)
	mux.HandleFunc("GET /api/savings", h.getSavings)
	mux.HandleFunc("GET /api/dashboard", h.getDashboard)
	mux.HandleFunc("GET /api/exports/tasks.csv", h.exportCSV)
	mux.HandleFunc("GET /api/exports/report.xlsx", h.exportXLSX)

	mux.HandleFunc("GET /api/audit", h.listAudit)
	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err to a status code. Internal errors are logged, not echoed.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("api.decode", "request body is required")
		}
		return apperr.Validation("api.decode", "invalid request body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperr.Validation("api.query", "%s must be a non-negative integer", name)
	}
	return n, nil
}

// queryTime accepts RFC 3339 or a plain date. A plain date used as an
// upper bound covers the whole day.
func queryTime(r *http.Request, name string, endOfDay bool) (*time.Time, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, apperr.Validation("api.query", "%s must be RFC 3339 or YYYY-MM-DD", name)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func queryStatus(r *http.Request) (*task.AuditStatus, error) {
	s := r.URL.Query().Get("status")
	if s == "" {
		return nil, nil
	}
	st, err := task.ParseStatus(s)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.Version,
		"uptime":  time.Since(h.StartAt).Round(time.Second).String(),
	})
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}

// --- Audit ---

func (h *Handlers) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := audit.Query{
		EntityType: audit.EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
		Action:     audit.Action(q.Get("action")),
	}
	if query.EntityType != "" && !query.EntityType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown entity_type")
		return
	}
	if query.Action != "" && !query.Action.Valid() {
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	since, err := queryTime(r, "since", false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if since != nil {
		query.Since = *since
	}
	until, err := queryTime(r, "until", false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if until != nil {
		query.Until = *until
	}

	entries, err := h.Audit.List(r.Context(), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
