package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// StaticSource serves workflows from an immutable in-memory table.
type StaticSource struct {
	workflows map[string]*Workflow
}

var _ Source = (*StaticSource)(nil)

// NewStatic validates defs and builds a source from them. Manifests inherit
// their phase and workflow IDs, and get an ID derived from their name when
// none is declared.
func NewStatic(defs []Workflow) (*StaticSource, error) {
	s := &StaticSource{workflows: make(map[string]*Workflow, len(defs))}
	for i := range defs {
		w := defs[i]
		if err := w.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.workflows[w.ID]; dup {
			return nil, fmt.Errorf("workflow: duplicate workflow %q", w.ID)
		}
		phases := make([]Phase, len(w.Phases))
		for pi, p := range w.Phases {
			ms := make([]Manifest, len(p.Workers))
			for mi, m := range p.Workers {
				m.Phase = p.ID
				m.Workflow = w.ID
				if m.ID == "" {
					m.ID = fmt.Sprintf("%s.%s.%s", w.ID, p.ID, m.Name)
				}
				ms[mi] = m
			}
			p.Workers = ms
			phases[pi] = p
		}
		w.Phases = phases
		s.workflows[w.ID] = &w
	}
	return s, nil
}

// Phases implements Source.
func (s *StaticSource) Phases(workflowID string) ([]string, error) {
	w, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	ids := make([]string, len(w.Phases))
	for i, p := range w.Phases {
		ids[i] = p.ID
	}
	return ids, nil
}

// Manifests implements Source.
func (s *StaticSource) Manifests(workflowID, phaseID string) ([]Manifest, error) {
	w, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	for _, p := range w.Phases {
		if p.ID == phaseID {
			return append([]Manifest(nil), p.Workers...), nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrPhaseNotFound, workflowID, phaseID)
}

// Get returns the named workflow definition.
func (s *StaticSource) Get(workflowID string) (*Workflow, bool) {
	w, ok := s.workflows[workflowID]
	if !ok {
		return nil, false
	}
	cp := *w
	return &cp, true
}

// IDs returns the declared workflow IDs, sorted.
func (s *StaticSource) IDs() []string {
	ids := make([]string, 0, len(s.workflows))
	for id := range s.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type workflowFile struct {
	Workflows []Workflow `yaml:"workflows"`
}

// Parse decodes a YAML workflows document.
func Parse(data []byte) (*StaticSource, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("workflow: payload is empty")
	}
	var f workflowFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("workflow: decode: %w", err)
	}
	return NewStatic(f.Workflows)
}

// LoadFile reads a YAML workflows file. An empty path or a missing file
// yields a source with no workflows.
func LoadFile(path string) (*StaticSource, error) {
	if path == "" {
		return NewStatic(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewStatic(nil)
		}
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return s, nil
}
