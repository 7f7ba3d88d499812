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

const hostPathPvName = "nfs-data-pv"
const hostPathPvcName = "nfs-data-pvc"

// hostPathConfig backs the relay with a directory on the node running it.
// Job pods on other nodes still reach the data through an in-cluster NFS
// volume bound to the relay service's address, provisioned as a second step
// once that address is known.
type hostPathConfig struct {
	deps Dependencies
}

func newHostPathConfig(deps Dependencies) ClusterConfig {
	return &hostPathConfig{deps: deps}
}

func (c *hostPathConfig) Name() string {
	return "host-path"
}

func (c *hostPathConfig) relayManifest() []byte {
	relay := c.deps.Relay
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
    ports:
      - name: nfs
        containerPort: 2049
      - name: mountd
        containerPort: 20048
      - name: rpcbind
        containerPort: 111
    securityContext:
      privileged: true
      capabilities:
        add:
        - SYS_ADMIN
        - SYS_MODULE
    volumeMounts:
      - mountPath: %[3]s
        name: shared-data
    env:
      - name: SHARED_DIRECTORY
        value: "%[3]s"
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
      hostPath:
        path: %[4]s
        type: Directory
---
apiVersion: v1
kind: Service
metadata:
  name: %[1]s
spec:
  type: ClusterIP
  ports:
    - name: nfs
      port: 2049
      targetPort: 2049
      protocol: TCP
    - name: mountd
      port: 20048
      targetPort: 20048
      protocol: TCP
    - name: rpcbind
      port: 111
      targetPort: 111
      protocol: TCP
    - name: http
      port: %[5]d
      targetPort: 80
      protocol: TCP
  selector:
    app: %[1]s
`, relay.PodName, relay.Container, relay.ExportRoot, c.deps.Config.HostPath, relay.HttpPort))
}

// volumeManifest binds a cluster-wide NFS PersistentVolume to the relay's
// address. NFS mount options are tuned for large sequential archive writes.
func (c *hostPathConfig) volumeManifest(serverAddress string) []byte {
	return []byte(fmt.Sprintf(`---
apiVersion: v1
kind: PersistentVolume
metadata:
  name: %[1]s
spec:
  capacity:
    storage: 100Gi
  accessModes:
    - ReadWriteMany
  nfs:
    server: %[3]s
    path: /
  mountOptions:
    - nfsvers=4.2
    - hard
    - tcp
    - rsize=1048576
    - wsize=1048576
    - timeo=600
---
apiVersion: v1
kind: PersistentVolumeClaim
metadata:
  name: %[2]s
spec:
  accessModes:
    - ReadWriteMany
  resources:
    requests:
      storage: 100Gi
  volumeName: %[1]s
  storageClassName: ""
`, hostPathPvName, hostPathPvcName, serverAddress))
}

func (c *hostPathConfig) SetupCluster(ctx context.Context) error {
	log.Infof("Provisioning relay with host path storage at %s", c.deps.Config.HostPath)
	if err := c.deps.Applier.Apply(ctx, c.relayManifest()); err != nil {
		return errors.Wrap(err, "failed to apply relay manifest")
	}

	address := discoverRelayAddress(ctx, c.deps.ClusterContext, c.deps.Relay.PodName)
	log.Infof("Relay NFS export available at %s", address)

	if err := c.deps.Applier.Apply(ctx, c.volumeManifest(address)); err != nil {
		return errors.Wrap(err, "failed to apply shared volume manifest")
	}
	return nil
}

func (c *hostPathConfig) CleanupCluster(ctx context.Context) error {
	log.Info("Removing relay and host path storage")
	if err := c.deps.Applier.Delete(ctx, c.relayManifest()); err != nil {
		return errors.Wrap(err, "failed to delete relay manifest")
	}
	address := discoverRelayAddress(ctx, c.deps.ClusterContext, c.deps.Relay.PodName)
	return errors.Wrap(c.deps.Applier.Delete(ctx, c.volumeManifest(address)),
		"failed to delete shared volume manifest")
}

func (c *hostPathConfig) GetJobVolumes(_ context.Context) ([]v1.Volume, error) {
	return []v1.Volume{
		{
			Name: SharedVolumeName,
			VolumeSource: v1.VolumeSource{
				PersistentVolumeClaim: &v1.PersistentVolumeClaimVolumeSource{ClaimName: hostPathPvcName},
			},
		},
	}, nil
}

func (c *hostPathConfig) PrepareSetup(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.WithStack(err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "1-relay-manifest.yaml"), c.relayManifest(), 0o644); err != nil {
		return errors.WithStack(err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "2-volume-manifest.yaml.tmpl"),
		c.volumeManifest("<NFS_SERVER_IP>"), 0o644); err != nil {
		return errors.WithStack(err)
	}

	readme := fmt.Sprintf(`# Host Path Cluster Setup Instructions

## Setup Steps

### 1. Apply the Relay Manifest

Create the relay pod and service. The pod stores data under %s on its node,
which must exist before the pod starts.

`+"```bash"+`
kubectl apply -f 1-relay-manifest.yaml
kubectl wait --for=condition=ready pod/%s --timeout=120s
`+"```"+`

### 2. Get the Relay ClusterIP

`+"```bash"+`
kubectl get service %s -o jsonpath='{.spec.clusterIP}'
`+"```"+`

### 3. Fill In and Apply the Volume Manifest

Replace <NFS_SERVER_IP> in the template with the ClusterIP from step 2:

`+"```bash"+`
sed 's/<NFS_SERVER_IP>/10.43.123.45/g' 2-volume-manifest.yaml.tmpl > 2-volume-manifest.yaml
kubectl apply -f 2-volume-manifest.yaml
`+"```"+`
`, c.deps.Config.HostPath, c.deps.Relay.PodName, c.deps.Relay.PodName)

	return errors.WithStack(os.WriteFile(filepath.Join(outputDir, "README_host_path.md"), []byte(readme), 0o644))
}
