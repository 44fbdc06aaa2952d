package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/report"
)

// reportFilter builds a report filter from start, end, status and
// include_audit query parameters.
func reportFilter(r *http.Request) (report.Filter, error) {
	var f report.Filter
	var err error
	if f.StartDate, err = queryTime(r, "start", false); err != nil {
		return f, err
	}
	if f.EndDate, err = queryTime(r, "end", true); err != nil {
		return f, err
	}
	if f.Status, err = queryStatus(r); err != nil {
		return f, err
	}
	if s := r.URL.Query().Get("include_audit"); s != "" {
		if f.IncludeAudit, err = strconv.ParseBool(s); err != nil {
			return f, apperr.Validation("api.query", "include_audit must be a boolean")
		}
	}
	return f, nil
}

func (h *Handlers) getReport(w http.ResponseWriter, r *http.Request) {
	f, err := reportFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.Reports.GenerateReport(r.Context(), accountID(r), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handlers) getTrends(w http.ResponseWriter, r *http.Request) {
	p, err := report.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.Reports.GetTrends(r.Context(), accountID(r), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handlers) getKPIs(w http.ResponseWriter, r *http.Request) {
	data, err := h.Reports.GetKPIs(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handlers) getSavings(w http.ResponseWriter, r *http.Request) {
	data, err := h.Reports.GetSavings(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handlers) getDashboard(w http.ResponseWriter, r *http.Request) {
	f, err := reportFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := report.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.Reports.Dashboard(r.Context(), accountID(r), f, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func attachment(w http.ResponseWriter, contentType, name string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func exportName(prefix, ext string) string {
	return fmt.Sprintf("%s-%s.%s", prefix, time.Now().UTC().Format("20060102"), ext)
}

// exportCSV buffers the whole file so a failure still yields a JSON error.
func (h *Handlers) exportCSV(w http.ResponseWriter, r *http.Request) {
	f, err := reportFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_, tasks, err := h.Reports.Export(r.Context(), accountID(r), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, tasks); err != nil {
		h.fail(w, r, err)
		return
	}
	attachment(w, "text/csv", exportName("pci-tasks", "csv"), buf.Bytes())
}

func (h *Handlers) exportXLSX(w http.ResponseWriter, r *http.Request) {
	f, err := reportFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data, tasks, err := h.Reports.Export(r.Context(), accountID(r), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, data, tasks); err != nil {
		h.fail(w, r, err)
		return
	}
	attachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		exportName("pci-report", "xlsx"), buf.Bytes())
}
