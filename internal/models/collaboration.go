package models

import "time"

// CollaborationMode selects how participants are coordinated.
type CollaborationMode string

const (
	ModeSequential CollaborationMode = "sequential"
	ModeParallel   CollaborationMode = "parallel"
	ModeReview     CollaborationMode = "review"
	ModeHandoff    CollaborationMode = "handoff"
)

// Valid reports whether m is a declared mode.
func (m CollaborationMode) Valid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeReview, ModeHandoff:
		return true
	}
	return false
}

// Role is a participant's part in a collaboration.
type Role string

const (
	RoleAssistant   Role = "assistant"
	RoleReviewer    Role = "reviewer"
	RoleSpecialist  Role = "specialist"
	RoleCoordinator Role = "coordinator"
)

// CollaborationStatus tracks a collaboration episode.
type CollaborationStatus string

const (
	CollabActive    CollaborationStatus = "active"
	CollabCompleted CollaborationStatus = "completed"
	CollabFailed    CollaborationStatus = "failed"
)

// Participant is one worker taking part in a collaboration.
type Participant struct {
	WorkerID     string `json:"worker_id"`
	Role         Role   `json:"role"`
	Contribution string `json:"contribution,omitempty"`
}

// Contribution is one participant's settled output in a collaboration.
type Contribution struct {
	WorkerID string        `json:"worker_id"`
	Role     Role          `json:"role"`
	Result   *Result       `json:"result"`
	Duration time.Duration `json:"duration"`
}

// Summary flattens c into the shape later participants see in their context.
func (c Contribution) Summary() map[string]any {
	out := map[string]any{
		"worker_id": c.WorkerID,
		"role":      string(c.Role),
	}
	if c.Result != nil {
		out["success"] = c.Result.Success
		if c.Result.Data != nil {
			out["data"] = c.Result.Data
		}
		if c.Result.Error != "" {
			out["error"] = c.Result.Error
		}
	}
	return out
}

// Collaboration is a multi-worker execution episode for one task.
type Collaboration struct {
	ID              string              `json:"id"`
	TaskID          string              `json:"task_id"`
	PrimaryWorkerID string              `json:"primary_worker_id"`
	Participants    []Participant       `json:"participants"`
	Mode            CollaborationMode   `json:"mode"`
	Status          CollaborationStatus `json:"status"`
	Results         []Contribution      `json:"results,omitempty"`
	Error           string              `json:"error,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}

// Clone returns a copy of c that shares no slices with it.
func (c *Collaboration) Clone() *Collaboration {
	out := *c
	out.Participants = append([]Participant(nil), c.Participants...)
	out.Results = append([]Contribution(nil), c.Results...)
	if c.CompletedAt != nil {
		at := *c.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}
