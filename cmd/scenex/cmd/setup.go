package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision the storage relay and job queue, or write their manifests for manual setup.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			clusterConfig, err := app.clusterConfig()
			if err != nil {
				return err
			}

			prepareDir, _ := cmd.Flags().GetString("prepare")
			if prepareDir != "" {
				if err := clusterConfig.PrepareSetup(prepareDir); err != nil {
					return err
				}
				if err := app.queueSetup().WriteManifests(cmd.Context(), prepareDir); err != nil {
					return err
				}
				log.Infof("Setup manifests written to %s", prepareDir)
				return nil
			}

			if err := clusterConfig.SetupCluster(cmd.Context()); err != nil {
				return err
			}
			return app.queueSetup().Apply(cmd.Context())
		},
	}

	cmd.Flags().String("prepare", "", "Write manifests and instructions to this directory instead of applying them")
	return cmd
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the storage relay and job queue from the cluster.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			clusterConfig, err := app.clusterConfig()
			if err != nil {
				return err
			}

			if err := app.queueSetup().Remove(cmd.Context()); err != nil {
				log.Warnf("Could not remove queue objects: %s", err)
			}
			return clusterConfig.CleanupCluster(cmd.Context())
		},
	}
}
