package clusterconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"
)

// managedDiskConfig provisions the relay on top of a dynamically provisioned
// block volume. The volume is ReadWriteOnce, so job pods reach it through
// the relay's NFS export rather than mounting the claim directly.
type managedDiskConfig struct {
	deps Dependencies
}

func newManagedDiskConfig(deps Dependencies) ClusterConfig {
	return &managedDiskConfig{deps: deps}
}

func (c *managedDiskConfig) Name() string {
	return "managed-disk"
}

func (c *managedDiskConfig) manifest() []byte {
	relay := c.deps.Relay
	cluster := c.deps.Config
	return []byte(fmt.Sprintf(`---
apiVersion: v1
kind: PersistentVolumeClaim
metadata:
  name: %[1]s
spec:
  accessModes:
    - ReadWriteOnce
  resources:
    requests:
      storage: %[2]s
  storageClassName: %[3]s
---
apiVersion: v1
kind: Pod
metadata:
  name: %[4]s
  labels:
    app: %[4]s
spec:
  containers:
  - name: %[5]s
    image: itsthenetwork/nfs-server-alpine:latest
    env:
    - name: SHARED_DIRECTORY
      value: %[6]s
    ports:
      - name: nfs
        containerPort: 2049
    securityContext:
      privileged: true
    volumeMounts:
      - mountPath: %[6]s
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
      persistentVolumeClaim:
        claimName: %[1]s
---
apiVersion: v1
kind: Service
metadata:
  name: %[4]s
spec:
  ports:
    - name: nfs
      port: 2049
    - name: mountd
      port: 20048
    - name: rpcbind
      port: 111
    - name: http
      port: %[7]d
      targetPort: 80
  selector:
    app: %[4]s
`, relay.PvcName, cluster.StorageSize, cluster.StorageClassName,
		relay.PodName, relay.Container, relay.ExportRoot, relay.HttpPort))
}

func (c *managedDiskConfig) SetupCluster(ctx context.Context) error {
	log.Infof("Provisioning relay with managed disk storage (%s, class %s)",
		c.deps.Config.StorageSize, c.deps.Config.StorageClassName)
	if err := c.deps.Applier.Apply(ctx, c.manifest()); err != nil {
		return errors.Wrap(err, "failed to apply relay manifest")
	}
	address := discoverRelayAddress(ctx, c.deps.ClusterContext, c.deps.Relay.PodName)
	log.Infof("Relay NFS export available at %s", address)
	return nil
}

func (c *managedDiskConfig) CleanupCluster(ctx context.Context) error {
	log.Info("Removing relay and managed disk storage")
	return errors.Wrap(c.deps.Applier.Delete(ctx, c.manifest()), "failed to delete relay manifest")
}

func (c *managedDiskConfig) GetJobVolumes(ctx context.Context) ([]v1.Volume, error) {
	address := discoverRelayAddress(ctx, c.deps.ClusterContext, c.deps.Relay.PodName)
	return []v1.Volume{
		{
			Name: SharedVolumeName,
			VolumeSource: v1.VolumeSource{
				NFS: &v1.NFSVolumeSource{Server: address, Path: "/"},
			},
		},
	}, nil
}

func (c *managedDiskConfig) PrepareSetup(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.WithStack(err)
	}
	manifestPath := filepath.Join(outputDir, "relay-manifest.yaml")
	if err := os.WriteFile(manifestPath, c.manifest(), 0o644); err != nil {
		return errors.WithStack(err)
	}

	readme := fmt.Sprintf(`# Managed Disk Cluster Setup Instructions

## Setup Steps

### 1. Apply the Relay Manifest

This manifest creates a PersistentVolumeClaim with %s of storage (class %s)
and the relay pod serving it over NFS and HTTP.

`+"```bash"+`
kubectl apply -f relay-manifest.yaml
`+"```"+`

### 2. Wait for the relay pod to be ready

`+"```bash"+`
kubectl wait --for=condition=ready pod/%s --timeout=120s
`+"```"+`
`, c.deps.Config.StorageSize, c.deps.Config.StorageClassName, c.deps.Relay.PodName)

	readmePath := filepath.Join(outputDir, "README_managed_disk.md")
	return errors.WithStack(os.WriteFile(readmePath, []byte(readme), 0o644))
}
