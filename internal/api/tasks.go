package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/nuka-dispatch/internal/models"
	"github.com/nidhogg/nuka-dispatch/internal/orchestrator"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
)

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.TaskRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.orch.CreateTask(req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks := h.orch.ListTasks(orchestrator.TaskQuery{
		Status:         models.TaskStatus(q.Get("status")),
		WorkerID:       q.Get("worker_id"),
		OrganizationID: q.Get("organization_id"),
	})
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// getTask falls back to the archive for tasks already pruned from memory.
func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.orch.GetTask(id)
	if errors.Is(err, orchestrator.ErrTaskNotFound) && h.archive != nil {
		t, err = h.archive.ArchivedTask(r.Context(), id)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type assignResponse struct {
	Assigned bool           `json:"assigned"`
	Task     *models.Task   `json:"task"`
	Worker   *worker.Worker `json:"worker,omitempty"`
}

func (h *Handler) assignTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.orch.AssignTask(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if a == nil {
		t, err := h.orch.GetTask(id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, assignResponse{Task: t})
		return
	}
	writeJSON(w, http.StatusOK, assignResponse{Assigned: true, Task: a.Task, Worker: a.Worker})
}

func (h *Handler) executeTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.orch.ExecuteTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if t != nil {
			writeJSON(w, statusFor(err), map[string]interface{}{"error": err.Error(), "task": t})
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	t, err := h.orch.CancelTask(chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type handoffRequest struct {
	TargetWorkerID string `json:"target_worker_id"`
	Reason         string `json:"reason"`
}

func (h *Handler) handoffTask(w http.ResponseWriter, r *http.Request) {
	var req handoffRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TargetWorkerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target_worker_id is required"})
		return
	}
	t, err := h.orch.HandoffTask(chi.URLParam(r, "id"), req.TargetWorkerID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) taskCollaborations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	collabs := h.orch.ListCollaborations(id)
	if len(collabs) == 0 && h.archive != nil {
		archived, err := h.archive.ArchivedCollaborations(r.Context(), id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		collabs = archived
	}
	if collabs == nil {
		collabs = []*models.Collaboration{}
	}
	writeJSON(w, http.StatusOK, collabs)
}

func (h *Handler) queue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Queue())
}
