package worker

import "time"

// Filter narrows a directory listing. OrganizationID must always match;
// every other populated field is ANDed in.
type Filter struct {
	OrganizationID  string
	WorkflowID      string
	PhaseID         string
	Types           []string
	Statuses        []Status
	Capabilities    []string // any of
	Available       *bool
	CurrentObjectID string
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
}

// Match reports whether w satisfies f.
func (f *Filter) Match(w *Worker) bool {
	if w.OrganizationID != f.OrganizationID {
		return false
	}
	if f.WorkflowID != "" && w.WorkflowID != f.WorkflowID {
		return false
	}
	if f.PhaseID != "" && w.PhaseID != f.PhaseID {
		return false
	}
	if len(f.Types) > 0 && !containsString(f.Types, w.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, w.Status) {
		return false
	}
	if len(f.Capabilities) > 0 && !w.HasAny(f.Capabilities) {
		return false
	}
	if f.Available != nil && w.Available != *f.Available {
		return false
	}
	if f.CurrentObjectID != "" && w.CurrentObjectID != f.CurrentObjectID {
		return false
	}
	if f.CreatedAfter != nil && w.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && w.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
