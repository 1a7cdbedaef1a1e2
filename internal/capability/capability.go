// Package capability holds the static catalog of named worker capabilities
// and the workflow phases and types each one applies to.
package capability

// Capability is a named ability a worker can declare.
type Capability struct {
	Name          string   `json:"name" yaml:"name"`
	Description   string   `json:"description" yaml:"description"`
	Skills        []string `json:"skills" yaml:"skills"`
	Phases        []string `json:"phases" yaml:"phases"`
	WorkflowTypes []string `json:"workflow_types" yaml:"workflow_types"`
}

// SupportsPhase reports whether c applies to phase. A capability that lists
// no phases applies to all of them.
func (c *Capability) SupportsPhase(phase string) bool {
	return len(c.Phases) == 0 || contains(c.Phases, phase)
}

// SupportsWorkflowType reports whether c applies to workflow type wt.
// A capability that lists no workflow types applies to all of them.
func (c *Capability) SupportsWorkflowType(wt string) bool {
	return len(c.WorkflowTypes) == 0 || contains(c.WorkflowTypes, wt)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
