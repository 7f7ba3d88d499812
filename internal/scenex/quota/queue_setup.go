package quota

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/scenexproject/scenex/internal/scenex/configuration"
	"github.com/scenexproject/scenex/internal/scenex/remote"
)

// Queue admission manifests for the job queue controller. The flavor covers
// every node; quotas are filled in from live cluster headroom.
const queueManifestTemplate = `apiVersion: kueue.x-k8s.io/v1beta2
kind: ResourceFlavor
metadata:
  name: default-flavor
---
apiVersion: kueue.x-k8s.io/v1beta2
kind: ClusterQueue
metadata:
  name: %[1]s
spec:
  namespaceSelector: {}
  resourceGroups:
  - coveredResources: ["cpu", "memory"]
    flavors:
    - name: default-flavor
      resources:
      - name: cpu
        nominalQuota: %[2]d
      - name: memory
        nominalQuota: %[3]dGi
---
apiVersion: kueue.x-k8s.io/v1beta2
kind: LocalQueue
metadata:
  namespace: %[4]s
  name: %[5]s
spec:
  clusterQueue: %[1]s
`

const queueManifestFileName = "queue-setup.yaml"
const queueReadmeFileName = "README_queue.md"

// QueueSetup renders and installs the admission queue objects sized to the
// cluster's current headroom.
type QueueSetup struct {
	config    configuration.QueueConfiguration
	estimator *Estimator
	applier   remote.Applier
}

func NewQueueSetup(config configuration.QueueConfiguration, estimator *Estimator, applier remote.Applier) *QueueSetup {
	return &QueueSetup{config: config, estimator: estimator, applier: applier}
}

// RenderManifests produces the ResourceFlavor, ClusterQueue and LocalQueue
// documents with quotas from ComputeQuota.
func (q *QueueSetup) RenderManifests(ctx context.Context) []byte {
	cpu, memoryGi := q.estimator.ComputeQuota(ctx)
	manifest := fmt.Sprintf(queueManifestTemplate,
		q.config.ClusterQueueName, cpu, memoryGi, q.config.Namespace, q.config.LocalQueueName)
	return []byte(manifest)
}

// Apply installs the queue objects. Re-applying updates quotas in place, so
// running this again after cluster growth is the supported resize path.
func (q *QueueSetup) Apply(ctx context.Context) error {
	manifest := q.RenderManifests(ctx)
	if err := q.applier.Apply(ctx, manifest); err != nil {
		return errors.Wrap(err, "failed to apply queue manifests")
	}
	log.Infof("Queue configured: LocalQueue %q in namespace %q", q.config.LocalQueueName, q.config.Namespace)
	return nil
}

func (q *QueueSetup) Remove(ctx context.Context) error {
	manifest := q.RenderManifests(ctx)
	return errors.Wrap(q.applier.Delete(ctx, manifest), "failed to delete queue manifests")
}

// WriteManifests writes the queue manifests plus setup instructions into
// outputDir for operators who apply cluster changes out of band.
func (q *QueueSetup) WriteManifests(ctx context.Context, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.WithStack(err)
	}

	manifestPath := filepath.Join(outputDir, queueManifestFileName)
	if err := os.WriteFile(manifestPath, q.RenderManifests(ctx), 0o644); err != nil {
		return errors.WithStack(err)
	}

	readme := fmt.Sprintf(`# Queue Setup Instructions

Job admission is controlled by Kueue. Install the controller, then apply the
generated queue objects.

## 1. Install Kueue via Helm

`+"```bash"+`
helm install kueue oci://registry.k8s.io/kueue/charts/kueue \
  --version=0.16.1 --create-namespace --namespace=kueue-system
`+"```"+`

## 2. Apply ResourceFlavor, ClusterQueue, and LocalQueue

After the Kueue controller is ready:

`+"```bash"+`
kubectl apply -f %s
`+"```"+`

This creates:
- ResourceFlavor `+"`default-flavor`"+`
- ClusterQueue `+"`%s`"+` (cpu/memory quotas sized from cluster headroom)
- LocalQueue `+"`%s`"+` in namespace `+"`%s`"+`
`, queueManifestFileName, q.config.ClusterQueueName, q.config.LocalQueueName, q.config.Namespace)

	readmePath := filepath.Join(outputDir, queueReadmeFileName)
	if err := os.WriteFile(readmePath, []byte(readme), 0o644); err != nil {
		return errors.WithStack(err)
	}
	log.Debugf("Wrote %s and %s", manifestPath, readmePath)
	return nil
}
