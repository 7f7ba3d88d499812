package quota

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/scenexproject/scenex/internal/scenex/configuration"
	clusterContext "github.com/scenexproject/scenex/internal/scenex/context"
)

type recordingApplier struct {
	applied [][]byte
	deleted [][]byte
}

func (r *recordingApplier) Apply(_ context.Context, manifest []byte) error {
	r.applied = append(r.applied, manifest)
	return nil
}

func (r *recordingApplier) Delete(_ context.Context, manifest []byte) error {
	r.deleted = append(r.deleted, manifest)
	return nil
}

func testQueueConfig() configuration.QueueConfiguration {
	return configuration.QueueConfiguration{
		Namespace:        "experiments",
		LocalQueueName:   "scenex",
		ClusterQueueName: "scenex-cluster-queue",
	}
}

func TestRenderManifests_FillsQuotasAndNames(t *testing.T) {
	client := fake.NewSimpleClientset(makeNode("node-1", "16", "64Gi"))
	estimator := NewEstimator(clusterContext.NewClusterContext(client, "experiments"))
	setup := NewQueueSetup(testQueueConfig(), estimator, &recordingApplier{})

	manifest := string(setup.RenderManifests(context.Background()))

	assert.Contains(t, manifest, "nominalQuota: 16")
	assert.Contains(t, manifest, "nominalQuota: 64Gi")
	assert.Contains(t, manifest, "name: scenex-cluster-queue")
	assert.Contains(t, manifest, "clusterQueue: scenex-cluster-queue")
	assert.Contains(t, manifest, "namespace: experiments")
}

func TestApply_SendsRenderedManifest(t *testing.T) {
	client := fake.NewSimpleClientset(makeNode("node-1", "16", "64Gi"))
	estimator := NewEstimator(clusterContext.NewClusterContext(client, "experiments"))
	applier := &recordingApplier{}
	setup := NewQueueSetup(testQueueConfig(), estimator, applier)

	err := setup.Apply(context.Background())

	require.NoError(t, err)
	require.Len(t, applier.applied, 1)
	assert.Contains(t, string(applier.applied[0]), "kind: LocalQueue")
}

func TestWriteManifests_ProducesManifestAndReadme(t *testing.T) {
	client := fake.NewSimpleClientset()
	estimator := NewEstimator(clusterContext.NewClusterContext(client, "experiments"))
	setup := NewQueueSetup(testQueueConfig(), estimator, &recordingApplier{})
	outputDir := t.TempDir()

	err := setup.WriteManifests(context.Background(), outputDir)
	require.NoError(t, err)

	manifest, err := os.ReadFile(filepath.Join(outputDir, "queue-setup.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "nominalQuota: 8")
	assert.Contains(t, string(manifest), "nominalQuota: 32Gi")

	readme, err := os.ReadFile(filepath.Join(outputDir, "README_queue.md"))
	require.NoError(t, err)
	assert.Contains(t, string(readme), "kubectl apply -f queue-setup.yaml")
}
