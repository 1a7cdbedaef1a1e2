package main

import (
	"fmt"

	"github.com/nidhogg/nuka-dispatch/internal/capability"
	"github.com/nidhogg/nuka-dispatch/internal/workflow"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config, capability catalog and workflow files",
	Long: `Load the configuration and the files it references without starting
anything, and report workers whose capabilities are missing from the
catalog and workflow manifests no configured worker can serve.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := capability.LoadFile(cfg.CapabilitiesFile)
	if err != nil {
		return err
	}
	workflows, err := workflow.LoadFile(cfg.WorkflowsFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config %s: %d workers, %d capabilities, %d workflows\n",
		path, len(cfg.Workers), len(catalog.All()), len(workflows.IDs()))

	problems := 0
	names := make(map[string]bool)
	for _, w := range cfg.Workers {
		names[w.Name] = true
		if unknown := catalog.Unknown(w.Capabilities); len(unknown) > 0 {
			fmt.Fprintf(out, "  worker %q: unknown capabilities %v\n", w.Name, unknown)
			problems++
		}
	}
	for _, id := range workflows.IDs() {
		wf, _ := workflows.Get(id)
		for _, p := range wf.Phases {
			for _, m := range p.Workers {
				if !names[m.Name] {
					fmt.Fprintf(out, "  workflow %s/%s: no worker named %q for manifest %s\n", id, p.ID, m.Name, m.ID)
					problems++
				}
			}
		}
	}
	if problems > 0 {
		return fmt.Errorf("%d problem(s) found", problems)
	}
	fmt.Fprintln(out, "ok")
	return nil
}
