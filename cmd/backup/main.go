package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printE(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:           "clinic-backup",
		Short:         "clinic-backup - scheduled database backups to multiple destinations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadDotEnv(envFiles)
		},
	}
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Environment files to load before reading configuration (default .env)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newTestCmd())
	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newDestinationsCmd())
	return cmd
}
