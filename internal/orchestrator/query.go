package orchestrator

import (
	"fmt"

	"github.com/nidhogg/nuka-dispatch/internal/models"
)

// GetTask returns a snapshot of a task.
func (o *Orchestrator) GetTask(id string) (*models.Task, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// TaskQuery narrows ListTasks. Empty fields match everything.
type TaskQuery struct {
	Status         models.TaskStatus
	WorkerID       string
	OrganizationID string
}

// ListTasks returns matching tasks in creation order.
func (o *Orchestrator) ListTasks(q TaskQuery) []*models.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*models.Task
	for _, id := range o.taskOrder {
		t := o.tasks[id]
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		if q.WorkerID != "" && t.AssignedWorkerID != q.WorkerID {
			continue
		}
		if q.OrganizationID != "" && t.OrganizationID != q.OrganizationID {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

// Queue returns the pending tasks in dispatch order.
func (o *Orchestrator) Queue() []*models.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*models.Task, 0, len(o.queue))
	for _, id := range o.queue {
		out = append(out, o.tasks[id].Clone())
	}
	return out
}

// GetCollaboration returns a snapshot of a collaboration.
func (o *Orchestrator) GetCollaboration(id string) (*models.Collaboration, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.collabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollaborationNotFound, id)
	}
	return c.Clone(), nil
}

// ListCollaborations returns collaborations in creation order, optionally
// limited to one task.
func (o *Orchestrator) ListCollaborations(taskID string) []*models.Collaboration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*models.Collaboration
	for _, id := range o.collabOrder {
		c := o.collabs[id]
		if taskID != "" && c.TaskID != taskID {
			continue
		}
		out = append(out, c.Clone())
	}
	return out
}

// Stats summarizes the orchestrator's task book.
type Stats struct {
	TotalTasks             int                       `json:"total_tasks"`
	ByStatus               map[models.TaskStatus]int `json:"by_status"`
	ByPriority             map[models.Priority]int   `json:"by_priority"`
	QueueLength            int                       `json:"queue_length"`
	Collaborations         int                       `json:"collaborations"`
	ActiveCollaborations   int                       `json:"active_collaborations"`
	AverageCompletionHours float64                   `json:"average_completion_hours"`
}

// Stats computes a summary over every task and collaboration held.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := Stats{
		TotalTasks:     len(o.tasks),
		ByStatus:       make(map[models.TaskStatus]int),
		ByPriority:     make(map[models.Priority]int),
		QueueLength:    len(o.queue),
		Collaborations: len(o.collabs),
	}
	var hours float64
	var completed int
	for _, t := range o.tasks {
		s.ByStatus[t.Status]++
		s.ByPriority[t.Priority]++
		if t.Status == models.TaskCompleted && t.CompletedAt != nil {
			hours += t.CompletedAt.Sub(t.CreatedAt).Hours()
			completed++
		}
	}
	if completed > 0 {
		s.AverageCompletionHours = hours / float64(completed)
	}
	for _, c := range o.collabs {
		if c.Status == models.CollabActive {
			s.ActiveCollaborations++
		}
	}
	return s
}
