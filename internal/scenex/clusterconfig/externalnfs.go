package clusterconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"

	"github.com/scenexproject/scenex/internal/scenex/domain"
)

// externalNfsConfig targets a pre-existing NFS export outside the cluster's
// control. Only the relay pod is provisioned; the storage itself is assumed
// to exist and is never cleaned up.
type externalNfsConfig struct {
	deps Dependencies
}

func newExternalNfsConfig(deps Dependencies) ClusterConfig {
	return &externalNfsConfig{deps: deps}
}

func (c *externalNfsConfig) Name() string {
	return "external-nfs"
}

func (c *externalNfsConfig) manifest() []byte {
	relay := c.deps.Relay
	cluster := c.deps.Config
	return []byte(fmt.Sprintf(`---
apiVersion: v1
kind: Pod
metadata:
  name: %[1]s
  labels:
    app: %[1]s
spec:
  containers:
  - name: %[2]s
    image: itsthenetwork/nfs-server-alpine:latest
    env:
    - name: SHARED_DIRECTORY
      value: %[3]s
    ports:
      - name: nfs
        containerPort: 2049
    securityContext:
      privileged: true
    volumeMounts:
      - mountPath: %[3]s
        name: shared-data
  - name: http-server
    image: nginx:alpine
    ports:
      - name: http
        containerPort: 80
    volumeMounts:
      - mountPath: /usr/share/nginx/html
        name: shared-data
        readOnly: true
  volumes:
    - name: shared-data
      nfs:
        server: %[4]s
        path: %[5]s
---
apiVersion: v1
kind: Service
metadata:
  name: %[1]s
spec:
  ports:
    - name: nfs
      port: 2049
    - name: http
      port: %[6]d
      targetPort: 80
  selector:
    app: %[1]s
`, relay.PodName, relay.Container, relay.ExportRoot,
		cluster.NfsServer, cluster.NfsPath, relay.HttpPort))
}

func (c *externalNfsConfig) SetupCluster(ctx context.Context) error {
	if c.deps.Config.NfsServer == "" {
		return domain.ConfigurationErrorf("external-nfs flavor requires an NFS server address")
	}
	log.Infof("Provisioning relay against external NFS export %s:%s",
		c.deps.Config.NfsServer, c.deps.Config.NfsPath)
	return errors.Wrap(c.deps.Applier.Apply(ctx, c.manifest()), "failed to apply relay manifest")
}

func (c *externalNfsConfig) CleanupCluster(ctx context.Context) error {
	log.Info("Removing relay, external NFS storage is left untouched")
	return errors.Wrap(c.deps.Applier.Delete(ctx, c.manifest()), "failed to delete relay manifest")
}

func (c *externalNfsConfig) GetJobVolumes(_ context.Context) ([]v1.Volume, error) {
	if c.deps.Config.NfsServer == "" {
		return nil, domain.ConfigurationErrorf("external-nfs flavor requires an NFS server address")
	}
	return []v1.Volume{
		{
			Name: SharedVolumeName,
			VolumeSource: v1.VolumeSource{
				NFS: &v1.NFSVolumeSource{
					Server: c.deps.Config.NfsServer,
					Path:   c.deps.Config.NfsPath,
				},
			},
		},
	}, nil
}

func (c *externalNfsConfig) PrepareSetup(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.WithStack(err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "relay-manifest.yaml"), c.manifest(), 0o644); err != nil {
		return errors.WithStack(err)
	}

	readme := fmt.Sprintf(`# External NFS Cluster Setup Instructions

The shared storage is an NFS export at %s:%s that must already exist and be
reachable from every node. Only the relay pod is created in the cluster.

## Setup Steps

### 1. Apply the Relay Manifest

`+"```bash"+`
kubectl apply -f relay-manifest.yaml
kubectl wait --for=condition=ready pod/%s --timeout=120s
`+"```"+`
`, c.deps.Config.NfsServer, c.deps.Config.NfsPath, c.deps.Relay.PodName)

	return errors.WithStack(os.WriteFile(filepath.Join(outputDir, "README_external_nfs.md"), []byte(readme), 0o644))
}
