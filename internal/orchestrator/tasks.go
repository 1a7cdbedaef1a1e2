package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-dispatch/internal/models"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
	"go.uber.org/zap"
)

// TaskRequest describes a task to create.
type TaskRequest struct {
	Type                 string          `json:"type"`
	ObjectID             string          `json:"object_id"`
	OrganizationID       string          `json:"organization_id"`
	WorkflowID           string          `json:"workflow_id,omitempty"`
	PhaseID              string          `json:"phase_id,omitempty"`
	RequiredCapabilities []string        `json:"required_capabilities"`
	Context              models.Input    `json:"context"`
	Priority             models.Priority `json:"priority,omitempty"`
	Metadata             map[string]any  `json:"metadata,omitempty"`
}

// CreateTask queues a pending task. Priority defaults to medium.
func (o *Orchestrator) CreateTask(req TaskRequest) (*models.Task, error) {
	if req.Type == "" {
		return nil, fmt.Errorf("%w: task type is required", ErrPrecondition)
	}
	if req.OrganizationID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrPrecondition)
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrPrecondition, req.Priority)
	}

	in := req.Context.Clone()
	if in.OrganizationID == "" {
		in.OrganizationID = req.OrganizationID
	}
	if in.ObjectID == "" {
		in.ObjectID = req.ObjectID
	}
	if in.WorkflowID == "" {
		in.WorkflowID = req.WorkflowID
	}
	if in.PhaseID == "" {
		in.PhaseID = req.PhaseID
	}

	now := o.now()
	t := &models.Task{
		ID:                   uuid.New().String(),
		Type:                 req.Type,
		ObjectID:             req.ObjectID,
		OrganizationID:       req.OrganizationID,
		WorkflowID:           req.WorkflowID,
		PhaseID:              req.PhaseID,
		Priority:             req.Priority,
		Status:               models.TaskPending,
		RequiredCapabilities: append([]string(nil), req.RequiredCapabilities...),
		Context:              in,
		Metadata:             copyMetadata(req.Metadata),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	o.mu.Lock()
	o.tasks[t.ID] = t
	o.taskOrder = append(o.taskOrder, t.ID)
	o.queue = append(o.queue, t.ID)
	o.sortQueueLocked()
	depth := len(o.queue)
	out := t.Clone()
	o.mu.Unlock()

	o.sink.SetQueueDepth(depth)
	o.sink.RecordTaskOutcome(string(models.TaskPending), 0)
	o.logger.Info("created task",
		zap.String("task", t.ID),
		zap.String("type", t.Type),
		zap.String("priority", string(t.Priority)))
	return out, nil
}

// sortQueueLocked orders the whole queue by priority, keeping insertion
// order among equal priorities.
func (o *Orchestrator) sortQueueLocked() {
	sort.SliceStable(o.queue, func(i, j int) bool {
		return o.tasks[o.queue[i]].Priority.Rank() > o.tasks[o.queue[j]].Priority.Rank()
	})
}

func (o *Orchestrator) dequeueLocked(id string) {
	for i, qid := range o.queue {
		if qid == id {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

// Assignment is the outcome of a successful AssignTask.
type Assignment struct {
	Task   *models.Task   `json:"task"`
	Worker *worker.Worker `json:"worker"`
}

// AssignTask gives a pending task to the best matching worker. It returns
// nil with no error when no worker qualifies; the task stays pending.
func (o *Orchestrator) AssignTask(taskID string) (*Assignment, error) {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("assign %s: %w", taskID, ErrTaskNotFound)
	}
	if t.Status != models.TaskPending {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: task %s is %s, not pending", ErrPrecondition, taskID, t.Status)
	}

	w := o.dir.ReserveBest(worker.Criteria{
		Capabilities:   t.RequiredCapabilities,
		OrganizationID: t.OrganizationID,
		PhaseID:        t.PhaseID,
		WorkflowID:     t.WorkflowID,
	}, t.ObjectID)
	if w == nil {
		o.mu.Unlock()
		o.logger.Info("no worker matched task",
			zap.String("task", taskID),
			zap.Strings("capabilities", t.RequiredCapabilities))
		return nil, nil
	}

	t.AssignedWorkerID = w.ID
	t.Status = models.TaskInProgress
	t.UpdatedAt = o.now()
	o.dequeueLocked(taskID)
	depth := len(o.queue)
	out := t.Clone()
	o.mu.Unlock()

	o.sink.SetQueueDepth(depth)
	o.logger.Info("assigned task",
		zap.String("task", taskID),
		zap.String("worker", w.ID))
	return &Assignment{Task: out, Worker: w}, nil
}

// ExecuteTask runs an assigned task on its worker and records the outcome.
// A worker failure is recorded on the task and returned wrapped in
// ErrExecutionFailed alongside the updated task.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID string) (*models.Task, error) {
	o.mu.RLock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.RUnlock()
		return nil, fmt.Errorf("execute %s: %w", taskID, ErrTaskNotFound)
	}
	workerID := t.AssignedWorkerID
	status := t.Status
	in := t.Context.Clone()
	taskType := t.Type
	o.mu.RUnlock()

	if workerID == "" {
		return nil, fmt.Errorf("execute %s: %w", taskID, ErrNotAssigned)
	}
	if status != models.TaskInProgress {
		return nil, fmt.Errorf("%w: task %s is %s, not in_progress", ErrPrecondition, taskID, status)
	}

	timer := o.sink.StartTimer("task.execute", map[string]any{
		"task_id":   taskID,
		"task_type": taskType,
		"worker_id": workerID,
	})
	start := time.Now()

	var (
		res  *models.Result
		err  error
		name string
	)
	w, ok := o.dir.Get(workerID)
	if ok {
		name = w.Name
		res, err = o.invoke(ctx, w, in)
	} else {
		err = fmt.Errorf("assigned worker %s: %w", workerID, worker.ErrNotFound)
	}
	dur := time.Since(start)
	success := err == nil

	out := o.settle(taskID, workerID, res, err)

	final := out.Status
	o.sink.EndTimer(timer, map[string]any{"success": success, "status": string(final)})
	o.sink.RecordTaskOutcome(string(final), dur)
	o.sink.RecordWorkerOutcome(workerID, name, success, dur)

	if !success {
		o.logger.Warn("task failed",
			zap.String("task", taskID),
			zap.String("worker", workerID),
			zap.Error(err))
		return out, fmt.Errorf("%w: task %s: %w", ErrExecutionFailed, taskID, err)
	}
	o.logger.Info("task completed",
		zap.String("task", taskID),
		zap.String("worker", workerID),
		zap.Duration("duration", dur))
	return out, nil
}

// settle applies an execution outcome. If the task was cancelled or handed
// off while the worker ran, the outcome is discarded: the task is left alone,
// the worker's performance is not credited and capacity, which was already
// released, is not touched again.
func (o *Orchestrator) settle(taskID, workerID string, res *models.Result, err error) *models.Task {
	success := err == nil

	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.tasks[taskID]
	if t == nil {
		return &models.Task{ID: taskID, Status: models.TaskFailed}
	}
	if t.Status != models.TaskInProgress || t.AssignedWorkerID != workerID {
		o.logger.Warn("discarding stale execution outcome",
			zap.String("task", taskID),
			zap.String("worker", workerID),
			zap.String("status", string(t.Status)))
		return t.Clone()
	}

	o.dir.RecordOutcome(workerID, success)
	if success {
		o.dir.RecordPerformance(workerID, 100)
	} else {
		o.dir.RecordPerformance(workerID, 0)
	}

	now := o.now()
	if success {
		t.Status = models.TaskCompleted
		t.Result = res.Data
		t.Error = ""
		t.CompletedAt = &now
	} else {
		t.Status = models.TaskFailed
		t.Error = err.Error()
		if res != nil {
			t.Result = res.Data
		}
	}
	t.UpdatedAt = now
	o.dir.Release(workerID)
	return t.Clone()
}

// CancelTask moves a pending or in-progress task to cancelled and frees its
// worker's capacity.
func (o *Orchestrator) CancelTask(taskID, reason string) (*models.Task, error) {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("cancel %s: %w", taskID, ErrTaskNotFound)
	}
	if err := models.Transition(t.Status, models.TaskCancelled); err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: cancel %s: %w", ErrPrecondition, taskID, err)
	}
	if t.Status == models.TaskInProgress && t.AssignedWorkerID != "" {
		o.dir.Release(t.AssignedWorkerID)
	}
	now := o.now()
	t.Status = models.TaskCancelled
	t.UpdatedAt = now
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata["cancel_reason"] = reason
	t.Metadata["cancelled_at"] = now
	o.dequeueLocked(taskID)
	depth := len(o.queue)
	out := t.Clone()
	o.mu.Unlock()

	o.sink.SetQueueDepth(depth)
	o.sink.RecordTaskOutcome(string(models.TaskCancelled), 0)
	o.logger.Info("cancelled task", zap.String("task", taskID), zap.String("reason", reason))
	return out, nil
}

// HandoffTask reassigns a task to targetWorkerID without changing its
// identity. The target needs every required capability and a free slot;
// otherwise nothing changes.
func (o *Orchestrator) HandoffTask(taskID, targetWorkerID, reason string) (*models.Task, error) {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("handoff %s: %w", taskID, ErrTaskNotFound)
	}
	if t.Status.Terminal() {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: task %s is %s", ErrPrecondition, taskID, t.Status)
	}
	prev := t.AssignedWorkerID
	if prev == targetWorkerID {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: task %s is already assigned to %s", ErrPrecondition, taskID, targetWorkerID)
	}

	if err := o.dir.Transfer(prev, targetWorkerID, t.RequiredCapabilities, t.ObjectID); err != nil {
		o.mu.Unlock()
		if errors.Is(err, worker.ErrNotFound) {
			return nil, fmt.Errorf("handoff %s: %w", taskID, err)
		}
		return nil, fmt.Errorf("%w: handoff %s: %w", ErrPrecondition, taskID, err)
	}

	now := o.now()
	if t.Status == models.TaskPending {
		o.dequeueLocked(taskID)
	}
	t.AssignedWorkerID = targetWorkerID
	t.Status = models.TaskInProgress
	t.UpdatedAt = now
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata["handoff_reason"] = reason
	t.Metadata["handoff_timestamp"] = now
	if prev != "" {
		t.Metadata["handoff_from"] = prev
	}
	depth := len(o.queue)
	out := t.Clone()
	o.mu.Unlock()

	o.sink.SetQueueDepth(depth)
	o.logger.Info("handed off task",
		zap.String("task", taskID),
		zap.String("from", prev),
		zap.String("to", targetWorkerID),
		zap.String("reason", reason))
	return out, nil
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
