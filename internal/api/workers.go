package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
)

// listWorkers returns every worker, or an organization's workers narrowed
// by the optional query filters.
func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	org := q.Get("organization_id")
	if org == "" {
		writeJSON(w, http.StatusOK, h.dir.All())
		return
	}
	f := worker.Filter{
		OrganizationID:  org,
		WorkflowID:      q.Get("workflow_id"),
		PhaseID:         q.Get("phase_id"),
		CurrentObjectID: q.Get("object_id"),
	}
	if v := q.Get("type"); v != "" {
		f.Types = strings.Split(v, ",")
	}
	if v := q.Get("capabilities"); v != "" {
		f.Capabilities = strings.Split(v, ",")
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			f.Statuses = append(f.Statuses, worker.Status(s))
		}
	}
	if v := q.Get("available"); v != "" {
		avail := v == "true"
		f.Available = &avail
	}
	workers := h.dir.List(f)
	if workers == nil {
		workers = []*worker.Worker{}
	}
	writeJSON(w, http.StatusOK, workers)
}

type instantiateRequest struct {
	Template string `json:"template"`
	worker.TemplateArgs
}

func (h *Handler) instantiateWorker(w http.ResponseWriter, r *http.Request) {
	var req instantiateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Template == "" || req.OrganizationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "template and organization_id are required"})
		return
	}
	wk, err := h.dir.Instantiate(req.Template, req.TemplateArgs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.dir.Register(wk))
}

func (h *Handler) workerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dir.Stats())
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dir.Templates())
}

func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	wk, ok := h.dir.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "worker not found"})
		return
	}
	writeJSON(w, http.StatusOK, wk)
}

func (h *Handler) removeWorker(w http.ResponseWriter, r *http.Request) {
	if !h.dir.Unregister(chi.URLParam(r, "id")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "worker not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateWorkerStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status worker.Status `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.dir.UpdateStatus(id, req.Status); err != nil {
		h.writeError(w, err)
		return
	}
	wk, _ := h.dir.Get(id)
	writeJSON(w, http.StatusOK, wk)
}

func (h *Handler) setWorkerAvailability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Available bool `json:"available"`
	}
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.dir.SetAvailability(id, req.Available); err != nil {
		h.writeError(w, err)
		return
	}
	wk, _ := h.dir.Get(id)
	writeJSON(w, http.StatusOK, wk)
}

// recordPerformance applies external feedback; unknown workers are ignored
// by the directory, so this always answers 202.
func (h *Handler) recordPerformance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Score float64 `json:"score"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.dir.RecordPerformance(chi.URLParam(r, "id"), req.Score)
	w.WriteHeader(http.StatusAccepted)
}
