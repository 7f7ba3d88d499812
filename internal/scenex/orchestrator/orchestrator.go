package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	batchv1 "k8s.io/api/batch/v1"

	"github.com/scenexproject/scenex/internal/scenex/configuration"
	clusterContext "github.com/scenexproject/scenex/internal/scenex/context"
	"github.com/scenexproject/scenex/internal/scenex/domain"
	"github.com/scenexproject/scenex/internal/scenex/manifest"
)

// InputUploader is the slice of the transfer channel the orchestrator needs:
// a relay health check and one bulk upload of the staged inputs.
type InputUploader interface {
	VerifyRelay(ctx context.Context) error
	Upload(ctx context.Context, localTree string, runId string) error
}

// Orchestrator fans a scenario set out into per-run jobs, watches them to
// completion and reduces the outcome into run statistics. It owns the job
// lifecycle for the run it creates and never touches other runs' jobs.
type Orchestrator struct {
	config   configuration.ExecutionConfiguration
	builder  *manifest.Builder
	cluster  clusterContext.ClusterContext
	uploader InputUploader
	clock    func() time.Time
}

func NewOrchestrator(
	config configuration.ExecutionConfiguration,
	builder *manifest.Builder,
	cluster clusterContext.ClusterContext,
	uploader InputUploader,
) *Orchestrator {
	return &Orchestrator{
		config:   config,
		builder:  builder,
		cluster:  cluster,
		uploader: uploader,
		clock:    time.Now,
	}
}

// Run executes runCount repetitions of every scenario in the set. Individual
// job failures are recorded in the returned statistics, not returned as
// errors; only configuration and precondition problems fail hard, before any
// job is submitted. Cleanup of jobs and pods always runs, also on
// cancellation.
func (o *Orchestrator) Run(ctx context.Context, scenarios *domain.ScenarioSet, runCount int) (*RunStatistics, error) {
	if scenarios.Len() == 0 {
		return nil, domain.ConfigurationErrorf("scenario set is empty")
	}
	if runCount < 1 {
		return nil, domain.ConfigurationErrorf("run count must be at least 1, got %d", runCount)
	}

	runId := domain.NewRunId(o.clock())
	log.Infof("Starting %d runs over %d scenarios (ID: %s)", runCount, scenarios.Len(), runId)

	if err := o.uploader.VerifyRelay(ctx); err != nil {
		return nil, err
	}

	o.preflightCleanup(ctx)

	if err := o.uploadInputs(ctx, runId, scenarios); err != nil {
		return nil, err
	}

	// From here on jobs exist in the cluster, so cleanup must run on every
	// exit path.
	var records []*domain.JobRecord
	defer func() { o.cleanup(records) }()

	records, err := o.submitAll(ctx, runId, scenarios, runCount)
	if err != nil {
		return nil, err
	}
	log.Infof("All %d jobs created, waiting for completion", len(records))

	runStart := o.clock()
	o.pollToCompletion(ctx, records)
	runEnd := o.clock()

	log.Info("Collecting job statistics")
	o.collectStatistics(records)

	statistics := &RunStatistics{RunId: runId, RunStart: runStart, RunEnd: runEnd}
	for _, record := range records {
		statistics.Jobs = append(statistics.Jobs, *record)
		if record.Terminal() {
			record.Phase = domain.JobCollected
		}
	}
	return statistics, nil
}

// preflightCleanup removes leftovers of a previous crashed run that share
// this tool's job name prefix. Best-effort: a failure here is logged, the
// new run proceeds.
func (o *Orchestrator) preflightCleanup(ctx context.Context) {
	existing, err := o.cluster.ListJobsByPrefix(ctx, o.builder.NamePrefix())
	if err != nil {
		log.Warnf("Could not list existing jobs: %s", err)
		return
	}
	if len(existing) == 0 {
		return
	}
	for _, job := range existing {
		log.Infof("Found existing job to clean up: %s", job.Name)
	}
	o.deleteRunResources(ctx)
}

func (o *Orchestrator) uploadInputs(ctx context.Context, runId string, scenarios *domain.ScenarioSet) error {
	log.Infof("Uploading input bundles for %d scenarios", scenarios.Len())
	configDir, err := stageScenarioInputs(runId, scenarios, o.config.CommonFilesDir)
	if err != nil {
		return err
	}
	defer os.RemoveAll(filepath.Dir(configDir))
	return o.uploader.Upload(ctx, configDir, runId)
}

func (o *Orchestrator) submitAll(ctx context.Context, runId string, scenarios *domain.ScenarioSet, runCount int) ([]*domain.JobRecord, error) {
	jobs, err := o.builder.ExpandAll(runId, scenarios.Keys(), runCount)
	if err != nil {
		return nil, err
	}

	// Submit everything before polling anything, so a quota-aware queue
	// sees the full workload at once.
	records := make([]*domain.JobRecord, 0, len(jobs))
	for _, job := range jobs {
		if _, err := o.cluster.SubmitJob(ctx, job); err != nil {
			return nil, errors.Wrapf(err, "failed to submit job %s", job.Name)
		}
		runNumber, _ := strconv.Atoi(job.Labels[domain.RunNumberLabel])
		records = append(records, &domain.JobRecord{
			Name:        job.Name,
			ScenarioKey: job.Labels[domain.ScenarioLabel],
			RunNumber:   runNumber,
			Phase:       domain.JobPending,
		})
		log.Debugf("Created job %s", job.Name)
	}
	return records, nil
}

// pollToCompletion watches the submitted jobs until every one has left the
// active set or the context is cancelled. A job stops being polled as soon
// as it reports a completion time or a failure with no active pods; failure
// is terminal here, never retried.
func (o *Orchestrator) pollToCompletion(ctx context.Context, records []*domain.JobRecord) {
	remaining := make(map[string]*domain.JobRecord, len(records))
	for _, record := range records {
		remaining[record.Name] = record
	}

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for len(remaining) > 0 {
		for name, record := range remaining {
			job, err := o.cluster.GetJob(ctx, name)
			if err != nil {
				if clusterContext.IsNotFound(err) {
					log.Warnf("Job %s disappeared while polling", name)
					delete(remaining, name)
					continue
				}
				log.Warnf("Could not poll job %s: %s", name, err)
				continue
			}
			if job.Status.Active >= 1 {
				record.Phase = domain.JobRunning
			}
			if !jobStillRunning(job) {
				delete(remaining, name)
			}
		}
		if len(remaining) == 0 {
			break
		}
		log.Infof("Waiting for %d out of %d jobs to finish", len(remaining), len(records))

		select {
		case <-ctx.Done():
			log.Warn("Cancelled while waiting for jobs, proceeding to cleanup")
			return
		case <-ticker.C:
		}
	}
	log.Info("All jobs finished")
}

func jobStillRunning(job *batchv1.Job) bool {
	if job.Status.Active >= 1 {
		return true
	}
	return job.Status.CompletionTime == nil && job.Status.Failed == 0
}

// collectStatistics reads each job's final status. It runs after the poll
// loop has exited, possibly through cancellation, so it uses a fresh bounded
// context; the statistics report is owed to the operator even on interrupt.
// Jobs that cannot be read keep their last known phase; jobs without
// timestamps stay non-terminal and are reported as unknown.
func (o *Orchestrator) collectStatistics(records []*domain.JobRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, record := range records {
		job, err := o.cluster.GetJob(ctx, record.Name)
		if err != nil {
			log.Warnf("Could not collect statistics for job %s: %s", record.Name, err)
			continue
		}
		if job.Status.StartTime != nil {
			startTime := job.Status.StartTime.Time
			record.StartTime = &startTime
		}
		if job.Status.CompletionTime != nil {
			completionTime := job.Status.CompletionTime.Time
			record.CompletionTime = &completionTime
		}
		record.Succeeded = job.Status.Succeeded
		record.Failed = job.Status.Failed
		switch {
		case job.Status.Succeeded > 0:
			record.Phase = domain.JobSucceeded
		case job.Status.Failed > 0:
			record.Phase = domain.JobFailed
		}
	}
}

// cleanup force-deletes this tool's jobs and pods. It runs in finalizer
// position, so errors are logged, never propagated, and it uses a fresh
// context because the run's context may already be cancelled.
func (o *Orchestrator) cleanup(records []*domain.JobRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	o.deleteRunResources(ctx)
	for _, record := range records {
		record.Phase = domain.JobCleanedUp
	}
	log.Info("Cleaned up jobs, the relay pod and its storage are left running for reuse")
}

func (o *Orchestrator) deleteRunResources(ctx context.Context) {
	selector := fmt.Sprintf("%s=%s", domain.JobGroupLabel, domain.JobGroupValue)
	if err := o.cluster.DeleteJobsBySelector(ctx, selector); err != nil {
		log.Warnf("Could not delete jobs with selector %s: %s", selector, err)
	}
	if err := o.cluster.DeletePodsBySelector(ctx, selector); err != nil {
		log.Warnf("Could not delete pods with selector %s: %s", selector, err)
	}
}
