package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func downloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and extract all result archives from the cluster's shared storage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}

			outputDir, _ := cmd.Flags().GetString("output")
			force, _ := cmd.Flags().GetBool("force")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			channel := app.transferChannel()
			if err := channel.VerifyRelay(ctx); err != nil {
				return err
			}
			return channel.Download(ctx, outputDir, force)
		},
	}

	cmd.Flags().String("output", "results", "Local directory results are extracted into")
	cmd.Flags().Bool("force", false, "Re-download runs that already exist locally")
	return cmd
}
