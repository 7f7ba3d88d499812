package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/scenexproject/scenex/internal/scenex/configuration"
	clusterContext "github.com/scenexproject/scenex/internal/scenex/context"
	"github.com/scenexproject/scenex/internal/scenex/domain"
	"github.com/scenexproject/scenex/internal/scenex/manifest"
)

const testJobTemplate = `
apiVersion: batch/v1
kind: Job
metadata:
  name: scenario-run-$SCENARIO_ID
spec:
  backoffLimit: 0
  template:
    spec:
      restartPolicy: Never
      containers:
        - name: simulator
          image: simulator:latest
          args:
            - --scenario=/config/scenario.osc
            - --run=$RUN_NUM
`

type fakeUploader struct {
	verifyErr     error
	verifyCalls   int
	uploadCalls   int
	uploadedFiles []string
}

func (f *fakeUploader) VerifyRelay(_ context.Context) error {
	f.verifyCalls++
	return f.verifyErr
}

func (f *fakeUploader) Upload(_ context.Context, localTree string, _ string) error {
	f.uploadCalls++
	_ = filepath.Walk(localTree, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		relativePath, _ := filepath.Rel(localTree, path)
		f.uploadedFiles = append(f.uploadedFiles, filepath.ToSlash(relativePath))
		return nil
	})
	return nil
}

// completeJobsOnCreate makes every created job report a final status
// immediately, so the poll loop terminates on its first pass. Jobs for
// failingScenario report a failure instead of success.
func completeJobsOnCreate(client *fake.Clientset, failingScenario string) {
	client.PrependReactor("create", "jobs", func(action k8stesting.Action) (bool, runtime.Object, error) {
		job := action.(k8stesting.CreateAction).GetObject().(*batchv1.Job)
		now := metav1.Now()
		start := metav1.NewTime(now.Add(-20 * time.Second))
		if failingScenario != "" && strings.Contains(job.Name, failingScenario) {
			job.Status.Failed = 1
			job.Status.StartTime = &start
		} else {
			job.Status.Succeeded = 1
			job.Status.StartTime = &start
			job.Status.CompletionTime = &now
		}
		return false, nil, nil
	})
}

func testScenarioSet(t *testing.T, keys ...string) *domain.ScenarioSet {
	t.Helper()
	scenarios := domain.NewScenarioSet()
	baseDir := t.TempDir()
	for _, key := range keys {
		scenarioPath := filepath.Join(baseDir, key+".osc")
		require.NoError(t, os.WriteFile(scenarioPath, []byte("scenario "+key), 0o644))
		scenarios.Add(key, domain.ScenarioInput{BasePath: scenarioPath})
	}
	return scenarios
}

func newTestOrchestrator(t *testing.T, client *fake.Clientset, uploader *fakeUploader) *Orchestrator {
	t.Helper()
	volumes := []v1.Volume{{
		Name: "transfer-storage",
		VolumeSource: v1.VolumeSource{
			PersistentVolumeClaim: &v1.PersistentVolumeClaimVolumeSource{ClaimName: "transfer-pvc"},
		},
	}}
	builder, err := manifest.NewBuilder([]byte(testJobTemplate), volumes)
	require.NoError(t, err)

	config := configuration.ExecutionConfiguration{
		Namespace:    "default",
		PollInterval: 10 * time.Millisecond,
	}
	orchestrator := NewOrchestrator(config, builder,
		clusterContext.NewClusterContext(client, "default"), uploader)
	orchestrator.clock = func() time.Time {
		return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	return orchestrator
}

func TestRun_FansOutAndCollectsStatistics(t *testing.T) {
	client := fake.NewSimpleClientset()
	completeJobsOnCreate(client, "")
	uploader := &fakeUploader{}
	orchestrator := newTestOrchestrator(t, client, uploader)

	statistics, err := orchestrator.Run(context.Background(), testScenarioSet(t, "scenario-a", "scenario-b"), 2)

	require.NoError(t, err)
	assert.Equal(t, "run-2026-01-01-120000", statistics.RunId)
	assert.Len(t, statistics.Jobs, 4)
	assert.Len(t, statistics.CompletedJobs(), 4)
	assert.Empty(t, statistics.FailedJobs())
	assert.Equal(t, 1, uploader.verifyCalls)
	assert.Equal(t, 1, uploader.uploadCalls)
}

func TestRun_StagesScenarioInputsForUpload(t *testing.T) {
	client := fake.NewSimpleClientset()
	completeJobsOnCreate(client, "")
	uploader := &fakeUploader{}
	orchestrator := newTestOrchestrator(t, client, uploader)

	_, err := orchestrator.Run(context.Background(), testScenarioSet(t, "scenario-a"), 1)

	require.NoError(t, err)
	assert.Contains(t, uploader.uploadedFiles, "run-2026-01-01-120000/scenario-a/scenario.osc")
}

func TestRun_FailedJobsAreRecordedNotFatal(t *testing.T) {
	client := fake.NewSimpleClientset()
	completeJobsOnCreate(client, "scenario-b")
	uploader := &fakeUploader{}
	orchestrator := newTestOrchestrator(t, client, uploader)

	statistics, err := orchestrator.Run(context.Background(), testScenarioSet(t, "scenario-a", "scenario-b"), 2)

	require.NoError(t, err)
	assert.Len(t, statistics.CompletedJobs(), 2)
	assert.Len(t, statistics.FailedJobs(), 2)
}

func TestRun_CleansUpJobsAfterCompletion(t *testing.T) {
	client := fake.NewSimpleClientset()
	completeJobsOnCreate(client, "")
	orchestrator := newTestOrchestrator(t, client, &fakeUploader{})

	_, err := orchestrator.Run(context.Background(), testScenarioSet(t, "scenario-a"), 1)
	require.NoError(t, err)

	jobs, err := client.BatchV1().Jobs("default").List(context.Background(), metav1.ListOptions{
		LabelSelector: domain.JobGroupLabel + "=" + domain.JobGroupValue,
	})
	require.NoError(t, err)
	assert.Empty(t, jobs.Items)
}

func TestRun_CancellationStillCleansUp(t *testing.T) {
	// Jobs never report completion, so the poll loop only exits through
	// cancellation.
	client := fake.NewSimpleClientset()
	orchestrator := newTestOrchestrator(t, client, &fakeUploader{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	statistics, err := orchestrator.Run(ctx, testScenarioSet(t, "scenario-a"), 1)

	require.NoError(t, err)
	assert.Len(t, statistics.Jobs, 1)
	assert.Empty(t, statistics.CompletedJobs())

	jobs, err := client.BatchV1().Jobs("default").List(context.Background(), metav1.ListOptions{
		LabelSelector: domain.JobGroupLabel + "=" + domain.JobGroupValue,
	})
	require.NoError(t, err)
	assert.Empty(t, jobs.Items)
}

// contextCheckingCluster fails any call whose context is already cancelled,
// the way a real API client does.
type contextCheckingCluster struct {
	clusterContext.ClusterContext
}

func (c *contextCheckingCluster) GetJob(ctx context.Context, name string) (*batchv1.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ClusterContext.GetJob(ctx, name)
}

func TestRun_InterruptedRunStillReportsJobOutcomes(t *testing.T) {
	// Jobs report success but keep an active pod, so the poll loop only
	// exits through cancellation. The final status read must still see the
	// success, even though the run's context is no longer usable.
	client := fake.NewSimpleClientset()
	client.PrependReactor("create", "jobs", func(action k8stesting.Action) (bool, runtime.Object, error) {
		job := action.(k8stesting.CreateAction).GetObject().(*batchv1.Job)
		now := metav1.Now()
		start := metav1.NewTime(now.Add(-20 * time.Second))
		job.Status.Active = 1
		job.Status.Succeeded = 1
		job.Status.StartTime = &start
		job.Status.CompletionTime = &now
		return false, nil, nil
	})

	orchestrator := newTestOrchestrator(t, client, &fakeUploader{})
	orchestrator.cluster = &contextCheckingCluster{ClusterContext: orchestrator.cluster}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	statistics, err := orchestrator.Run(ctx, testScenarioSet(t, "scenario-a"), 1)

	require.NoError(t, err)
	require.Len(t, statistics.Jobs, 1)
	assert.Len(t, statistics.CompletedJobs(), 1)
	assert.Empty(t, statistics.UnknownJobs())
}

func TestRun_PreconditionFailureAbortsBeforeSubmission(t *testing.T) {
	client := fake.NewSimpleClientset()
	uploader := &fakeUploader{verifyErr: domain.PreconditionErrorf("relay pod missing")}
	orchestrator := newTestOrchestrator(t, client, uploader)

	_, err := orchestrator.Run(context.Background(), testScenarioSet(t, "scenario-a"), 1)

	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.Zero(t, uploader.uploadCalls)

	jobs, listErr := client.BatchV1().Jobs("default").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, listErr)
	assert.Empty(t, jobs.Items)
}

func TestRun_EmptyScenarioSetIsConfigurationError(t *testing.T) {
	orchestrator := newTestOrchestrator(t, fake.NewSimpleClientset(), &fakeUploader{})

	_, err := orchestrator.Run(context.Background(), domain.NewScenarioSet(), 1)

	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
