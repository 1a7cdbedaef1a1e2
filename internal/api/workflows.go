package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/nuka-dispatch/internal/models"
	"github.com/nidhogg/nuka-dispatch/internal/orchestrator"
)

type runRequest struct {
	OrganizationID string         `json:"organization_id"`
	ObjectID       string         `json:"object_id"`
	Metadata       map[string]any `json:"metadata"`
	Phases         []string       `json:"phases,omitempty"`
}

func (req runRequest) scope(workflowID string) orchestrator.Scope {
	return orchestrator.Scope{
		OrganizationID: req.OrganizationID,
		WorkflowID:     workflowID,
		ObjectID:       req.ObjectID,
		Metadata:       req.Metadata,
	}
}

func (h *Handler) decodeRun(w http.ResponseWriter, r *http.Request) (runRequest, bool) {
	var req runRequest
	if !decode(w, r, &req) {
		return req, false
	}
	if req.OrganizationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization_id is required"})
		return req, false
	}
	return req, true
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	if h.workflows == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, h.workflows.IDs())
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	if h.workflows == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "workflow not found"})
		return
	}
	wf, ok := h.workflows.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "workflow not found"})
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) runWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRun(w, r)
	if !ok {
		return
	}
	run, err := h.orch.ExecuteWorkflow(r.Context(), req.scope(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) runPhase(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRun(w, r)
	if !ok {
		return
	}
	results, err := h.orch.ExecutePhase(r.Context(), req.scope(chi.URLParam(r, "id")), chi.URLParam(r, "phase"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) runParallelPhases(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRun(w, r)
	if !ok {
		return
	}
	results, err := h.orch.ExecuteParallelPhases(r.Context(), req.scope(chi.URLParam(r, "id")), req.Phases)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) listArchivedTasks(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "archive not configured"})
		return
	}
	org := r.URL.Query().Get("organization_id")
	if org == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization_id is required"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	tasks, err := h.archive.ListArchivedTasks(r.Context(), org, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}
