package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-dispatch/internal/metrics"
	"github.com/nidhogg/nuka-dispatch/internal/models"
	"github.com/nidhogg/nuka-dispatch/internal/orchestrator"
	"github.com/nidhogg/nuka-dispatch/internal/store"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
	"github.com/nidhogg/nuka-dispatch/internal/workflow"
	"go.uber.org/zap"
)

// Workflows is the read side of the workflow configuration source.
type Workflows interface {
	IDs() []string
	Get(workflowID string) (*workflow.Workflow, bool)
}

// Archive serves tasks and collaborations pruned from memory.
type Archive interface {
	ArchivedTask(ctx context.Context, id string) (*models.Task, error)
	ListArchivedTasks(ctx context.Context, orgID string, limit int) ([]*models.Task, error)
	ArchivedCollaborations(ctx context.Context, taskID string) ([]*models.Collaboration, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch      *orchestrator.Orchestrator
	dir       *worker.Directory
	workflows Workflows
	counters  *metrics.Memory
	archive   Archive
	logger    *zap.Logger
}

// NewHandler creates a new API handler. workflows, counters and archive
// may be nil; their routes then answer 503.
func NewHandler(orch *orchestrator.Orchestrator, workflows Workflows, counters *metrics.Memory, archive Archive, logger *zap.Logger) *Handler {
	return &Handler{
		orch:      orch,
		dir:       orch.Directory(),
		workflows: workflows,
		counters:  counters,
		archive:   archive,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/stats", h.stats)
		r.Get("/metrics", h.metrics)
		r.Get("/capabilities", h.listCapabilities)

		// Task routes
		r.Post("/tasks", h.createTask)
		r.Get("/tasks", h.listTasks)
		r.Get("/tasks/{id}", h.getTask)
		r.Post("/tasks/{id}/assign", h.assignTask)
		r.Post("/tasks/{id}/execute", h.executeTask)
		r.Post("/tasks/{id}/cancel", h.cancelTask)
		r.Post("/tasks/{id}/handoff", h.handoffTask)
		r.Get("/tasks/{id}/collaborations", h.taskCollaborations)
		r.Get("/queue", h.queue)

		// Worker routes
		r.Get("/workers", h.listWorkers)
		r.Post("/workers", h.instantiateWorker)
		r.Get("/workers/stats", h.workerStats)
		r.Get("/workers/templates", h.listTemplates)
		r.Get("/workers/{id}", h.getWorker)
		r.Delete("/workers/{id}", h.removeWorker)
		r.Put("/workers/{id}/status", h.updateWorkerStatus)
		r.Put("/workers/{id}/availability", h.setWorkerAvailability)
		r.Post("/workers/{id}/performance", h.recordPerformance)

		// Collaboration routes
		r.Post("/collaborations", h.createCollaboration)
		r.Get("/collaborations", h.listCollaborations)
		r.Get("/collaborations/{id}", h.getCollaboration)
		r.Post("/collaborations/{id}/execute", h.executeCollaboration)

		// Workflow routes
		r.Get("/workflows", h.listWorkflows)
		r.Get("/workflows/{id}", h.getWorkflow)
		r.Post("/workflows/{id}/run", h.runWorkflow)
		r.Post("/workflows/{id}/phases/run", h.runParallelPhases)
		r.Post("/workflows/{id}/phases/{phase}/run", h.runPhase)

		// Archive routes
		r.Get("/archive/tasks", h.listArchivedTasks)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "nuka-dispatch"})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":   h.orch.Stats(),
		"workers": h.dir.Stats(),
	})
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if h.counters == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "metrics not enabled"})
		return
	}
	writeJSON(w, http.StatusOK, h.counters.Snapshot())
}

func (h *Handler) listCapabilities(w http.ResponseWriter, r *http.Request) {
	cat := h.dir.Catalog()
	if cat == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	if phase := r.URL.Query().Get("phase"); phase != "" {
		writeJSON(w, http.StatusOK, cat.ForPhase(phase))
		return
	}
	if wt := r.URL.Query().Get("workflow_type"); wt != "" {
		writeJSON(w, http.StatusOK, cat.ForWorkflowType(wt))
		return
	}
	writeJSON(w, http.StatusOK, cat.All())
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrTaskNotFound),
		errors.Is(err, orchestrator.ErrCollaborationNotFound),
		errors.Is(err, worker.ErrNotFound),
		errors.Is(err, workflow.ErrWorkflowNotFound),
		errors.Is(err, workflow.ErrPhaseNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrPrecondition),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrExecutionFailed):
		return http.StatusBadGateway
	case errors.Is(err, worker.ErrUnknownTemplate),
		errors.Is(err, worker.ErrInvalidStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
