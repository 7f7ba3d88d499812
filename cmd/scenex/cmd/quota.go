package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scenexproject/scenex/internal/scenex/quota"
)

func quotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show the job queue quota the cluster's current headroom supports.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}

			estimator := quota.NewEstimator(app.cluster)
			cpu, memoryGi := estimator.ComputeQuota(cmd.Context())
			log.Infof("Queue quota: %d cpu cores, %dGi memory", cpu, memoryGi)
			return nil
		},
	}
}
