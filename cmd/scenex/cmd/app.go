package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/scenexproject/scenex/internal/common"
	"github.com/scenexproject/scenex/internal/scenex/clusterconfig"
	"github.com/scenexproject/scenex/internal/scenex/configuration"
	clusterContext "github.com/scenexproject/scenex/internal/scenex/context"
	"github.com/scenexproject/scenex/internal/scenex/quota"
	"github.com/scenexproject/scenex/internal/scenex/remote"
	"github.com/scenexproject/scenex/internal/scenex/transfer"
)

// app bundles the wiring shared by every sub-command: loaded configuration,
// the control-plane client and the kubectl-backed remote surfaces.
type app struct {
	config  configuration.ScenexConfiguration
	cluster clusterContext.ClusterContext
	kubectl *remote.Kubectl
}

func newApp(cmd *cobra.Command) (*app, error) {
	configDir, _ := cmd.Flags().GetString("config")
	overrides, _ := cmd.Flags().GetStringSlice("override")

	var config configuration.ScenexConfiguration
	common.LoadConfig(&config, configDir, overrides)
	config.ApplyDefaults()

	client, err := clusterContext.CreateKubernetesClient()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to the cluster")
	}

	return &app{
		config:  config,
		cluster: clusterContext.NewClusterContext(client, config.Execution.Namespace),
		kubectl: remote.NewKubectl(config.Execution.Namespace),
	}, nil
}

func (a *app) transferChannel() *transfer.Channel {
	return transfer.NewChannel(a.config.Relay, a.config.Transfer, a.kubectl, a.kubectl, a.cluster)
}

func (a *app) clusterConfig() (clusterconfig.ClusterConfig, error) {
	return clusterconfig.New(a.config.Cluster.Flavor, clusterconfig.Dependencies{
		Config:         a.config.Cluster,
		Relay:          a.config.Relay,
		ClusterContext: a.cluster,
		Applier:        a.kubectl,
	})
}

func (a *app) queueSetup() *quota.QueueSetup {
	estimator := quota.NewEstimator(a.cluster)
	return quota.NewQueueSetup(a.config.Queue, estimator, a.kubectl)
}
