package clusterconfig

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"

	"github.com/scenexproject/scenex/internal/scenex/configuration"
	clusterContext "github.com/scenexproject/scenex/internal/scenex/context"
	"github.com/scenexproject/scenex/internal/scenex/domain"
	"github.com/scenexproject/scenex/internal/scenex/remote"
)

// SharedVolumeName is the volume name job manifests reference to reach the
// relay's storage, regardless of which flavor provisioned it.
const SharedVolumeName = "transfer-storage"

// ClusterConfig is the storage provisioning strategy for one cluster flavor.
// Setup and Cleanup are idempotent: a resource that already exists or is
// already gone is logged and skipped, never an error.
type ClusterConfig interface {
	Name() string
	// SetupCluster provisions the relay pod and its backing storage.
	SetupCluster(ctx context.Context) error
	// CleanupCluster removes everything SetupCluster created.
	CleanupCluster(ctx context.Context) error
	// GetJobVolumes returns the volume descriptor job pods embed to mount
	// the shared storage.
	GetJobVolumes(ctx context.Context) ([]v1.Volume, error)
	// PrepareSetup writes the flavor's manifests and a setup README for
	// operators applying cluster changes manually.
	PrepareSetup(outputDir string) error
}

// Dependencies is the shared wiring each flavor receives from the caller.
type Dependencies struct {
	Config         configuration.ClusterConfiguration
	Relay          configuration.RelayConfiguration
	ClusterContext clusterContext.ClusterContext
	Applier        remote.Applier
}

type factory func(deps Dependencies) ClusterConfig

// The flavor set is closed. Adding a backend means adding a strategy here,
// not configuring arbitrary manifests.
var flavors = map[string]factory{
	"managed-disk": newManagedDiskConfig,
	"host-path":    newHostPathConfig,
	"external-nfs": newExternalNfsConfig,
}

// New returns the strategy registered under name. Unknown names fail with a
// ConfigurationError listing the valid flavors.
func New(name string, deps Dependencies) (ClusterConfig, error) {
	create, ok := flavors[name]
	if !ok {
		return nil, domain.ConfigurationErrorf(
			"unknown cluster flavor %q, valid flavors: %s", name, strings.Join(Names(), ", "))
	}
	return create(deps), nil
}

// Names lists the registered flavors in stable order.
func Names() []string {
	names := make([]string, 0, len(flavors))
	for name := range flavors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// discoverRelayAddress polls for the relay service's ClusterIP, falling back
// to the in-cluster DNS name when the service never reports one.
func discoverRelayAddress(ctx context.Context, c clusterContext.ClusterContext, serviceName string) string {
	var address string
	err := retry.Do(
		func() error {
			service, err := c.GetService(ctx, serviceName)
			if err != nil {
				return err
			}
			if service.Spec.ClusterIP == "" || service.Spec.ClusterIP == v1.ClusterIPNone {
				return errors.Errorf("service %s has no cluster ip yet", serviceName)
			}
			address = service.Spec.ClusterIP
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(30),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		fallback := fmt.Sprintf("%s.%s.svc.cluster.local", serviceName, c.Namespace())
		log.Warnf("Could not discover relay address, falling back to %s: %s", fallback, err)
		return fallback
	}
	log.Debugf("Relay service %s reachable at %s", serviceName, address)
	return address
}
