package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ecsched",
		Short: "Cron scheduler for containerized batch tasks on ECS",
		Long: `ecsched schedules containerized batch tasks on an ECS cluster.
Jobs are managed through an HTTP API, persisted to a configurable
backend and fired on cron-style schedules by a background daemon.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(serveCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
