package api

import (
	"io"
	"net/http"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/audit"
	"github.com/GoCodeAlone/pciledger/formula"
	"github.com/GoCodeAlone/pciledger/review"
	"github.com/GoCodeAlone/pciledger/settings"
	"github.com/GoCodeAlone/pciledger/task"
)

// taskView is a task plus the figures derived from the caller's settings.
type taskView struct {
	*task.Task
	EffectiveRate  float64 `json:"effectiveRate"`
	EstimatedCost  float64 `json:"estimatedCost"`
	EstimatedHours float64 `json:"estimatedHours"`
	Formatted      string  `json:"formattedCost"`
}

func (h *Handlers) view(r *http.Request, t *task.Task) (taskView, error) {
	s, err := h.Settings.Get(r.Context(), accountID(r))
	if err != nil {
		return taskView{}, err
	}
	rate := t.EffectiveRate(s)
	cost := formula.Cost(t.PCIUnits, rate)
	return taskView{
		Task:           t,
		EffectiveRate:  rate,
		EstimatedCost:  cost,
		EstimatedHours: formula.Hours(t.PCIUnits, s.UnitToHourRatio),
		Formatted:      settings.FormatMoney(cost, s.Currency),
	}, nil
}

// respondTask writes t with its derived figures.
func (h *Handlers) respondTask(w http.ResponseWriter, r *http.Request, status int, t *task.Task) {
	v, err := h.view(r, t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	var f task.Filter
	var err error
	if f.Status, err = queryStatus(r); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.CreatedFrom, err = queryTime(r, "from", false); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.CreatedTo, err = queryTime(r, "to", true); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		h.fail(w, r, err)
		return
	}
	f.IncludeDeleted = r.URL.Query().Get("include_deleted") == "true"

	tasks, err := h.Tasks.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var in task.NewTask
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.Tasks.Create(r.Context(), Subject(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondTask(w, r, http.StatusCreated, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondTask(w, r, http.StatusOK, t)
}

func (h *Handlers) patchTask(w http.ResponseWriter, r *http.Request) {
	var p task.Patch
	if err := decode(r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.Tasks.Patch(r.Context(), Subject(r.Context()), r.PathValue("id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondTask(w, r, http.StatusOK, t)
}

func (h *Handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Tasks.Delete(r.Context(), Subject(r.Context()), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) updateFactors(w http.ResponseWriter, r *http.Request) {
	var f formula.Factors
	if err := decode(r, &f); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.Tasks.UpdateFactors(r.Context(), Subject(r.Context()), r.PathValue("id"), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondTask(w, r, http.StatusOK, t)
}

func (h *Handlers) applyVerification(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	v, err := h.Schema.Decode(data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.Tasks.ApplyVerification(r.Context(), Subject(r.Context()), r.PathValue("id"), v)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondTask(w, r, http.StatusOK, t)
}

// transitionRequest carries the optional approval comment or rejection reason.
type transitionRequest struct {
	Reason string `json:"reason"`
}

func decodeOptional(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decode(r, v)
}

func (h *Handlers) approveTask(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.Review.Approve(r.Context(), Subject(r.Context()), r.PathValue("id"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondTask(w, r, http.StatusOK, t)
}

func (h *Handlers) rejectTask(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.Review.Reject(r.Context(), Subject(r.Context()), r.PathValue("id"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondTask(w, r, http.StatusOK, t)
}

func (h *Handlers) markReviewed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if err := decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.Review.MarkReviewed(r.Context(), Subject(r.Context()), r.PathValue("id"), req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handlers) listComments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.Tasks.Get(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	comments, err := h.Review.ListComments(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if comments == nil {
		comments = []*review.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *Handlers) addComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Review.AddComment(r.Context(), Subject(r.Context()), r.PathValue("id"), req.Body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) taskAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Audit.ListByEntity(r.Context(), audit.EntityTask, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(entries) == 0 {
		h.fail(w, r, apperr.NotFound("api.task_audit", "task", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) flagSuggestions(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.Settings.Get(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	suggestions := review.SuggestFlags(t, s, h.Thresholds)
	if suggestions == nil {
		suggestions = []review.NewFlag{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}
