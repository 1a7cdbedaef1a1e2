package models

// Input is the context object handed to a worker's execution contract.
type Input struct {
	OrganizationID string         `json:"organization_id"`
	WorkflowID     string         `json:"workflow_id,omitempty"`
	PhaseID        string         `json:"phase_id,omitempty"`
	ObjectID       string         `json:"object_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy of in with its own metadata map.
func (in Input) Clone() Input {
	in.Metadata = copyMap(in.Metadata)
	return in
}

// With returns a copy of in with the given metadata keys set.
func (in Input) With(kv map[string]any) Input {
	out := in.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		out.Metadata[k] = v
	}
	return out
}

// Result is what a worker's execution contract settles with. The core
// never inspects Data.
type Result struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Failure builds an unsuccessful Result carrying msg.
func Failure(msg string) *Result {
	return &Result{Success: false, Error: msg}
}
