// Package workflow supplies the static catalog of workflows: each workflow's
// ordered phases and the worker manifests eligible to run in each phase.
package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWorkflowNotFound is returned for an undeclared workflow ID.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrPhaseNotFound is returned for a phase ID the workflow doesn't declare.
	ErrPhaseNotFound = errors.New("phase not found")
)

// Source is the read-only workflow configuration consumed by the orchestrator.
type Source interface {
	// Phases returns the workflow's phase IDs in declared order.
	Phases(workflowID string) ([]string, error)
	// Manifests returns the worker manifests declared for a phase.
	Manifests(workflowID, phaseID string) ([]Manifest, error)
}

// Manifest declares a worker that should run in a phase.
type Manifest struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Phase       string         `json:"phase" yaml:"phase"`
	Workflow    string         `json:"workflow" yaml:"workflow"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Phase is an ordered step of a workflow.
type Phase struct {
	ID      string     `json:"id" yaml:"id"`
	Name    string     `json:"name,omitempty" yaml:"name,omitempty"`
	Workers []Manifest `json:"workers" yaml:"workers"`
}

// Workflow is a declared workflow definition.
type Workflow struct {
	ID     string  `json:"id" yaml:"id"`
	Name   string  `json:"name,omitempty" yaml:"name,omitempty"`
	Type   string  `json:"type,omitempty" yaml:"type,omitempty"`
	Phases []Phase `json:"phases" yaml:"phases"`
}

// Validate checks that IDs are present and unique within their scope.
func (w *Workflow) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return fmt.Errorf("workflow: id is required")
	}
	seen := make(map[string]bool, len(w.Phases))
	for i, p := range w.Phases {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("workflow %s: phase %d: id is required", w.ID, i)
		}
		if seen[p.ID] {
			return fmt.Errorf("workflow %s: duplicate phase %q", w.ID, p.ID)
		}
		seen[p.ID] = true
		for j, m := range p.Workers {
			if strings.TrimSpace(m.Name) == "" {
				return fmt.Errorf("workflow %s: phase %s: worker %d: name is required", w.ID, p.ID, j)
			}
		}
	}
	return nil
}
