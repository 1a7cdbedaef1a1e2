package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nidhogg/nuka-dispatch/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	runOrg      string
	runObject   string
	runPhases   string
	runBackends bool
)

var runWorkflowCmd = &cobra.Command{
	Use:   "run-workflow <workflow-id>",
	Short: "Execute a configured workflow once and print the results",
	Long: `Execute every phase of a workflow in declared order against the
configured workers and print the results as JSON.

With --phases, only the listed phases run, concurrently.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runWorkflowCmd.Flags().StringVar(&runOrg, "org", "", "organization id (required)")
	runWorkflowCmd.Flags().StringVar(&runObject, "object", "", "object id passed to every worker")
	runWorkflowCmd.Flags().StringVar(&runPhases, "phases", "", "comma-separated phase ids to run in parallel")
	runWorkflowCmd.Flags().BoolVar(&runBackends, "backends", false, "connect Redis and PostgreSQL (needed for remote workers)")
	_ = runWorkflowCmd.MarkFlagRequired("org")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), runBackends)
	if err != nil {
		return err
	}
	defer a.close()

	scope := orchestrator.Scope{
		OrganizationID: runOrg,
		WorkflowID:     args[0],
		ObjectID:       runObject,
	}

	var out interface{}
	if runPhases != "" {
		out, err = a.orch.ExecuteParallelPhases(cmd.Context(), scope, strings.Split(runPhases, ","))
	} else {
		out, err = a.orch.ExecuteWorkflow(cmd.Context(), scope)
	}
	if err != nil {
		return fmt.Errorf("run workflow %s: %w", args[0], err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
