package capability

// Builtins returns the default capability table used when no catalog
// file is configured.
func Builtins() []*Capability {
	return []*Capability{
		{
			Name:          "research",
			Description:   "Gather and compile background information on a target object",
			Skills:        []string{"web_search", "document_analysis", "summarization"},
			Phases:        []string{"discovery", "qualification"},
			WorkflowTypes: []string{"investor_research", "lead_generation", "due_diligence"},
		},
		{
			Name:          "outreach",
			Description:   "Draft and send first-contact communication",
			Skills:        []string{"copywriting", "personalization", "email"},
			Phases:        []string{"engagement"},
			WorkflowTypes: []string{"lead_generation", "fundraising"},
		},
		{
			Name:          "analysis",
			Description:   "Score, rank and compare candidate objects",
			Skills:        []string{"scoring", "financial_modeling", "comparison"},
			Phases:        []string{"qualification", "evaluation"},
			WorkflowTypes: []string{"investor_research", "due_diligence"},
		},
		{
			Name:          "enrichment",
			Description:   "Fill missing attributes from external data providers",
			Skills:        []string{"data_lookup", "deduplication"},
			Phases:        []string{"discovery"},
			WorkflowTypes: []string{"lead_generation", "investor_research"},
		},
		{
			Name:        "review",
			Description: "Check another worker's output for accuracy and tone",
			Skills:      []string{"fact_checking", "editing"},
		},
		{
			Name:          "scheduling",
			Description:   "Propose and book meetings",
			Skills:        []string{"calendar", "timezone_resolution"},
			Phases:        []string{"engagement", "follow_up"},
			WorkflowTypes: []string{"fundraising", "lead_generation"},
		},
		{
			Name:        "summarization",
			Description: "Condense results into a brief",
			Skills:      []string{"summarization"},
		},
	}
}

// Default returns a catalog built from Builtins.
func Default() *Catalog {
	c, err := New(Builtins())
	if err != nil {
		panic(err)
	}
	return c
}
