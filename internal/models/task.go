package models

import (
	"fmt"
	"time"
)

// Priority orders tasks in the pending queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    1,
	PriorityMedium: 2,
	PriorityHigh:   3,
	PriorityUrgent: 4,
}

// Rank returns the sort weight of p. Unknown priorities rank below low.
func (p Priority) Rank() int {
	return priorityRank[p]
}

// Valid reports whether p is one of the declared priorities.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no transition leaves s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is a queued unit of work.
type Task struct {
	ID                   string         `json:"id"`
	Type                 string         `json:"type"`
	ObjectID             string         `json:"object_id,omitempty"`
	OrganizationID       string         `json:"organization_id"`
	WorkflowID           string         `json:"workflow_id,omitempty"`
	PhaseID              string         `json:"phase_id,omitempty"`
	Priority             Priority       `json:"priority"`
	Status               TaskStatus     `json:"status"`
	RequiredCapabilities []string       `json:"required_capabilities"`
	AssignedWorkerID     string         `json:"assigned_worker_id,omitempty"`
	Context              Input          `json:"context"`
	Result               any            `json:"result,omitempty"`
	Error                string         `json:"error,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a copy of t that shares no maps or slices with it.
func (t *Task) Clone() *Task {
	c := *t
	c.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	c.Context = t.Context.Clone()
	c.Result = copyData(t.Result)
	c.Metadata = copyMap(t.Metadata)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = fmt.Errorf("invalid task transition")

var validTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskCancelled},
	TaskInProgress: {TaskCompleted, TaskFailed, TaskCancelled},
}

// Transition returns nil if from→to is a legal task transition.
func Transition(from, to TaskStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: no transitions from %q", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %q → %q", ErrInvalidTransition, from, to)
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// copyData copies the top level of object- and array-shaped worker data.
// Scalars are returned as is.
func copyData(v any) any {
	switch d := v.(type) {
	case map[string]any:
		return copyMap(d)
	case []any:
		return append([]any(nil), d...)
	default:
		return v
	}
}
