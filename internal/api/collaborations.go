package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/nuka-dispatch/internal/models"
)

type collaborationRequest struct {
	TaskID          string                   `json:"task_id"`
	PrimaryWorkerID string                   `json:"primary_worker_id"`
	Participants    []models.Participant     `json:"participants"`
	Mode            models.CollaborationMode `json:"mode"`
}

func (h *Handler) createCollaboration(w http.ResponseWriter, r *http.Request) {
	var req collaborationRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.orch.CreateCollaboration(req.TaskID, req.PrimaryWorkerID, req.Participants, req.Mode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) listCollaborations(w http.ResponseWriter, r *http.Request) {
	collabs := h.orch.ListCollaborations(r.URL.Query().Get("task_id"))
	if collabs == nil {
		collabs = []*models.Collaboration{}
	}
	writeJSON(w, http.StatusOK, collabs)
}

func (h *Handler) getCollaboration(w http.ResponseWriter, r *http.Request) {
	c, err := h.orch.GetCollaboration(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) executeCollaboration(w http.ResponseWriter, r *http.Request) {
	c, err := h.orch.ExecuteCollaboration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
