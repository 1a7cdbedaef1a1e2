package capability

import (
	"fmt"
	"sort"
)

// Catalog is an immutable lookup table of capabilities keyed by name.
// It is safe for concurrent use because it is never mutated after New.
type Catalog struct {
	entries map[string]*Capability
	names   []string
}

// New builds a catalog from entries. Duplicate or empty names are rejected.
func New(entries []*Capability) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]*Capability, len(entries))}
	for _, e := range entries {
		if e == nil || e.Name == "" {
			return nil, fmt.Errorf("capability: name is required")
		}
		if _, dup := c.entries[e.Name]; dup {
			return nil, fmt.Errorf("capability: duplicate entry %q", e.Name)
		}
		cp := *e
		cp.Skills = append([]string(nil), e.Skills...)
		cp.Phases = append([]string(nil), e.Phases...)
		cp.WorkflowTypes = append([]string(nil), e.WorkflowTypes...)
		c.entries[e.Name] = &cp
		c.names = append(c.names, e.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Get returns the named capability.
func (c *Catalog) Get(name string) (*Capability, bool) {
	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Has reports whether name is in the catalog.
func (c *Catalog) Has(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// All returns every capability ordered by name.
func (c *Catalog) All() []*Capability {
	out := make([]*Capability, 0, len(c.names))
	for _, n := range c.names {
		cp := *c.entries[n]
		out = append(out, &cp)
	}
	return out
}

// ForPhase returns the names of capabilities that apply to phase.
func (c *Catalog) ForPhase(phase string) []string {
	var out []string
	for _, n := range c.names {
		if c.entries[n].SupportsPhase(phase) {
			out = append(out, n)
		}
	}
	return out
}

// ForWorkflowType returns the names of capabilities that apply to workflow type wt.
func (c *Catalog) ForWorkflowType(wt string) []string {
	var out []string
	for _, n := range c.names {
		if c.entries[n].SupportsWorkflowType(wt) {
			out = append(out, n)
		}
	}
	return out
}

// Unknown returns the names from names that the catalog does not contain.
func (c *Catalog) Unknown(names []string) []string {
	var out []string
	for _, n := range names {
		if !c.Has(n) {
			out = append(out, n)
		}
	}
	return out
}
