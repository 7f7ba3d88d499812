package clusterconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/scenexproject/scenex/internal/scenex/configuration"
	clusterContext "github.com/scenexproject/scenex/internal/scenex/context"
	"github.com/scenexproject/scenex/internal/scenex/domain"
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

func testDependencies(applier *recordingApplier, objects ...interface{}) Dependencies {
	client := fake.NewSimpleClientset()
	for _, object := range objects {
		if service, ok := object.(*v1.Service); ok {
			_, _ = client.CoreV1().Services("default").Create(context.Background(), service, metav1.CreateOptions{})
		}
	}
	config := configuration.ScenexConfiguration{}
	config.ApplyDefaults()
	return Dependencies{
		Config:         config.Cluster,
		Relay:          config.Relay,
		ClusterContext: clusterContext.NewClusterContext(client, "default"),
		Applier:        applier,
	}
}

func relayService(clusterIp string) *v1.Service {
	return &v1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "nfs-server", Namespace: "default"},
		Spec:       v1.ServiceSpec{ClusterIP: clusterIp},
	}
}

func TestNew_UnknownFlavorListsValidNames(t *testing.T) {
	_, err := New("openstack", testDependencies(&recordingApplier{}))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Contains(t, err.Error(), "external-nfs")
	assert.Contains(t, err.Error(), "host-path")
	assert.Contains(t, err.Error(), "managed-disk")
}

func TestNames_AreSorted(t *testing.T) {
	assert.Equal(t, []string{"external-nfs", "host-path", "managed-disk"}, Names())
}

func TestManagedDisk_JobVolumesUseDiscoveredAddress(t *testing.T) {
	deps := testDependencies(&recordingApplier{}, relayService("10.0.0.42"))
	config, err := New("managed-disk", deps)
	require.NoError(t, err)

	volumes, err := config.GetJobVolumes(context.Background())
	require.NoError(t, err)

	require.Len(t, volumes, 1)
	assert.Equal(t, SharedVolumeName, volumes[0].Name)
	require.NotNil(t, volumes[0].NFS)
	assert.Equal(t, "10.0.0.42", volumes[0].NFS.Server)
	assert.Equal(t, "/", volumes[0].NFS.Path)
}

func TestManagedDisk_SetupAppliesRelayManifest(t *testing.T) {
	applier := &recordingApplier{}
	deps := testDependencies(applier, relayService("10.0.0.42"))
	config, err := New("managed-disk", deps)
	require.NoError(t, err)

	require.NoError(t, config.SetupCluster(context.Background()))

	require.Len(t, applier.applied, 1)
	manifest := string(applier.applied[0])
	assert.Contains(t, manifest, "name: transfer-pvc")
	assert.Contains(t, manifest, "name: nfs-server")
	assert.Contains(t, manifest, "storageClassName: managed-csi")
	assert.Contains(t, manifest, "storage: 10Gi")
}

func TestHostPath_SetupAppliesVolumeManifestWithAddress(t *testing.T) {
	applier := &recordingApplier{}
	deps := testDependencies(applier, relayService("10.0.0.7"))
	config, err := New("host-path", deps)
	require.NoError(t, err)

	require.NoError(t, config.SetupCluster(context.Background()))

	require.Len(t, applier.applied, 2)
	assert.Contains(t, string(applier.applied[0]), "path: /transfer")
	assert.Contains(t, string(applier.applied[1]), "server: 10.0.0.7")
}

func TestHostPath_JobVolumesReferenceSharedClaim(t *testing.T) {
	config, err := New("host-path", testDependencies(&recordingApplier{}))
	require.NoError(t, err)

	volumes, err := config.GetJobVolumes(context.Background())
	require.NoError(t, err)

	require.Len(t, volumes, 1)
	require.NotNil(t, volumes[0].PersistentVolumeClaim)
	assert.Equal(t, "nfs-data-pvc", volumes[0].PersistentVolumeClaim.ClaimName)
}

func TestExternalNfs_RequiresServerAddress(t *testing.T) {
	config, err := New("external-nfs", testDependencies(&recordingApplier{}))
	require.NoError(t, err)

	_, err = config.GetJobVolumes(context.Background())

	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestExternalNfs_JobVolumesUseConfiguredExport(t *testing.T) {
	deps := testDependencies(&recordingApplier{})
	deps.Config.NfsServer = "nas.example.com"
	deps.Config.NfsPath = "/srv/scenex"
	config, err := New("external-nfs", deps)
	require.NoError(t, err)

	volumes, err := config.GetJobVolumes(context.Background())
	require.NoError(t, err)

	require.NotNil(t, volumes[0].NFS)
	assert.Equal(t, "nas.example.com", volumes[0].NFS.Server)
	assert.Equal(t, "/srv/scenex", volumes[0].NFS.Path)
}

func TestCleanup_CalledTwiceNeverFails(t *testing.T) {
	applier := &recordingApplier{}
	deps := testDependencies(applier, relayService("10.0.0.42"))
	config, err := New("managed-disk", deps)
	require.NoError(t, err)

	assert.NoError(t, config.CleanupCluster(context.Background()))
	assert.NoError(t, config.CleanupCluster(context.Background()))
	assert.Len(t, applier.deleted, 2)
}

func TestPrepareSetup_WritesManifestAndReadme(t *testing.T) {
	deps := testDependencies(&recordingApplier{})
	config, err := New("managed-disk", deps)
	require.NoError(t, err)
	outputDir := t.TempDir()

	require.NoError(t, config.PrepareSetup(outputDir))

	manifest, err := os.ReadFile(filepath.Join(outputDir, "relay-manifest.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "kind: PersistentVolumeClaim")

	readme, err := os.ReadFile(filepath.Join(outputDir, "README_managed_disk.md"))
	require.NoError(t, err)
	assert.Contains(t, string(readme), "kubectl apply -f relay-manifest.yaml")
}
