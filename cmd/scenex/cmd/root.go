package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenex",
		Short: "scenex runs batches of simulation scenarios on a Kubernetes cluster.",
	}

	cmd.PersistentFlags().String("config", ".", "Directory containing the config file")
	cmd.PersistentFlags().StringSlice("override", nil, "Additional config files merged over the base config")

	cmd.AddCommand(
		runCmd(),
		downloadCmd(),
		setupCmd(),
		cleanupCmd(),
		quotaCmd(),
	)

	return cmd
}

func Execute() {
	if err := RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
