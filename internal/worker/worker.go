// Package worker tracks live worker instances: their capabilities, capacity,
// availability and performance, and picks the best one for a piece of work.
package worker

import (
	"context"
	"time"

	"github.com/nidhogg/nuka-dispatch/internal/models"
)

// Executor is the execution contract every worker implements. A returned
// error and a Result with Success=false are both failures.
type Executor interface {
	Execute(ctx context.Context, in models.Input) (*models.Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, in models.Input) (*models.Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, in models.Input) (*models.Result, error) {
	return f(ctx, in)
}

// Status is a worker's operational state.
type Status string

const (
	StatusActive      Status = "active"
	StatusIdle        Status = "idle"
	StatusBusy        Status = "busy"
	StatusOffline     Status = "offline"
	StatusError       Status = "error"
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is a declared status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusIdle, StatusBusy, StatusOffline, StatusError, StatusMaintenance:
		return true
	}
	return false
}

// Performance is the feedback-driven record of how a worker has done.
type Performance struct {
	TasksCompleted int       `json:"tasks_completed"`
	TasksFailed    int       `json:"tasks_failed"`
	SuccessRate    float64   `json:"success_rate"`
	AverageScore   float64   `json:"average_score"`
	UsageCount     int       `json:"usage_count"`
	LastActivity   time.Time `json:"last_activity"`
}

func (p *Performance) recomputeSuccessRate() {
	total := p.TasksCompleted + p.TasksFailed
	if total == 0 {
		p.SuccessRate = 0
		return
	}
	p.SuccessRate = float64(p.TasksCompleted) / float64(total) * 100
}

// Worker is a registered worker instance.
type Worker struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Type            string      `json:"type"`
	OrganizationID  string      `json:"organization_id"`
	WorkflowID      string      `json:"workflow_id,omitempty"`
	PhaseID         string      `json:"phase_id,omitempty"`
	Capabilities    []string    `json:"capabilities"`
	Status          Status      `json:"status"`
	MaxConcurrent   int         `json:"max_concurrent"`
	CurrentCount    int         `json:"current_count"`
	Available       bool        `json:"available"`
	CurrentObjectID string      `json:"current_object_id,omitempty"`
	Performance     Performance `json:"performance"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`

	Executor Executor `json:"-"`
}

// HasCapability reports whether w declares name.
func (w *Worker) HasCapability(name string) bool {
	for _, c := range w.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// HasAll reports whether w declares every capability in required.
func (w *Worker) HasAll(required []string) bool {
	for _, r := range required {
		if !w.HasCapability(r) {
			return false
		}
	}
	return true
}

// HasAny reports whether w declares at least one capability in names.
func (w *Worker) HasAny(names []string) bool {
	for _, n := range names {
		if w.HasCapability(n) {
			return true
		}
	}
	return false
}

// HasCapacity reports whether w can take one more unit of work.
func (w *Worker) HasCapacity() bool {
	return w.CurrentCount < w.MaxConcurrent
}

func (w *Worker) clone() *Worker {
	c := *w
	c.Capabilities = append([]string(nil), w.Capabilities...)
	return &c
}
