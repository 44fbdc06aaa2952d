package api

import (
	"net/http"

	"github.com/GoCodeAlone/pciledger/review"
	"github.com/GoCodeAlone/pciledger/settings"
)

func (h *Handlers) listFlags(w http.ResponseWriter, r *http.Request) {
	filter := review.FlagFilter{TaskID: r.URL.Query().Get("task_id")}
	switch st := review.FlagStatus(r.URL.Query().Get("status")); st {
	case "":
	case review.FlagOpen, review.FlagResolved:
		filter.Status = &st
	default:
		writeError(w, http.StatusBadRequest, "status must be open or resolved")
		return
	}

	flags, err := h.Review.ListFlags(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if flags == nil {
		flags = []*review.Flag{}
	}
	writeJSON(w, http.StatusOK, flags)
}

func (h *Handlers) createFlag(w http.ResponseWriter, r *http.Request) {
	var in review.NewFlag
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.Review.CreateFlag(r.Context(), Subject(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *Handlers) resolveFlag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.Review.ResolveFlag(r.Context(), Subject(r.Context()), r.PathValue("id"), req.Resolution)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handlers) annotateFlag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.Review.AnnotateFlag(r.Context(), Subject(r.Context()), r.PathValue("id"), req.Body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// --- Settings ---

func (h *Handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settings.Get(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var p settings.Patch
	if err := decode(r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.Settings.Update(r.Context(), Subject(r.Context()), accountID(r), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) listPresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, settings.Presets())
}
