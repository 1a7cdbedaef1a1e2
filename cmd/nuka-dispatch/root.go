package main

import (
	"os"

	"github.com/nidhogg/nuka-dispatch/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nuka-dispatch",
	Short: "Task and workflow dispatcher for capability-matched workers",
	Long: `nuka-dispatch queues tasks by priority, assigns them to the best
matching registered worker, runs multi-worker collaborations, and executes
configured workflows phase by phase.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONFIG_PATH or "+config.DefaultPath+")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runWorkflowCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(workerCmd)
}

// resolveConfigPath applies flag, then CONFIG_PATH, then the default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return config.DefaultPath
}
