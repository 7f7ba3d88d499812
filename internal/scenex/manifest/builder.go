package manifest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	batchv1 "k8s.io/api/batch/v1"
	v1 "k8s.io/api/core/v1"

	"github.com/scenexproject/scenex/internal/scenex/domain"
)

const (
	inputMountPath  = "/config"
	outputMountPath = "/out"
)

// Builder expands the workload template into concrete job specifications,
// one per (scenarioKey, runNumber) pair.
type Builder struct {
	template *Node
	volumes  []v1.Volume
}

// NewBuilder parses and validates the template. The job resource name must
// carry the composite scenario-run placeholder so every expanded job gets a
// unique name; a template without it is rejected before any cluster call.
func NewBuilder(templateData []byte, volumes []v1.Volume) (*Builder, error) {
	template, err := Parse(templateData)
	if err != nil {
		return nil, domain.ConfigurationErrorf("%s", err)
	}

	name, ok := template.Lookup("metadata", "name").StringValue()
	if !ok {
		return nil, domain.ConfigurationErrorf("workload template has no metadata.name")
	}
	if !strings.Contains(name, domain.PlaceholderScenarioId) {
		return nil, domain.ConfigurationErrorf(
			"workload template metadata.name %q must contain the %s placeholder", name, domain.PlaceholderScenarioId)
	}

	return &Builder{template: template, volumes: volumes}, nil
}

// NamePrefix is the job name with all placeholders stripped. Pre-flight
// cleanup deletes any leftover job whose name starts with this prefix.
func (b *Builder) NamePrefix() string {
	name, _ := b.template.Lookup("metadata", "name").StringValue()
	name = strings.ReplaceAll(name, domain.PlaceholderScenarioId, "")
	name = strings.ReplaceAll(name, domain.PlaceholderItem, "")
	return name
}

// SanitizeKey makes a scenario key usable inside a job resource name.
func SanitizeKey(scenarioKey string) string {
	sanitized := strings.ReplaceAll(scenarioKey, "/", "-")
	sanitized = strings.ReplaceAll(sanitized, "_", "-")
	return strings.ToLower(sanitized)
}

// Expand substitutes all placeholders for one (scenarioKey, runNumber) pair
// and returns the typed job, labelled for this run and wired to the shared
// storage volume with the job's input and output subpaths.
func (b *Builder) Expand(runId string, scenarioKey string, runNumber int) (*batchv1.Job, error) {
	scenarioRunId := fmt.Sprintf("%s-%d", SanitizeKey(scenarioKey), runNumber)

	substituted := b.template.
		Substitute(domain.PlaceholderScenarioConfig, scenarioKey).
		Substitute(domain.PlaceholderScenarioId, scenarioRunId).
		Substitute(domain.PlaceholderItem, scenarioRunId).
		Substitute(domain.PlaceholderRunId, runId).
		Substitute(domain.PlaceholderRunNumber, strconv.Itoa(runNumber))

	job, err := toJob(substituted)
	if err != nil {
		return nil, err
	}

	applyLabels(job, runId, scenarioKey, runNumber)
	b.attachStorage(job, runId, scenarioKey, runNumber)
	addExecutionEnv(job, runId, scenarioKey, runNumber)

	return job, nil
}

// ExpandAll builds the full fan-out: all jobs for all runs, in submission
// order (run-major, scenario order preserved).
func (b *Builder) ExpandAll(runId string, scenarioKeys []string, runCount int) ([]*batchv1.Job, error) {
	jobs := make([]*batchv1.Job, 0, runCount*len(scenarioKeys))
	for runNumber := 0; runNumber < runCount; runNumber++ {
		for _, scenarioKey := range scenarioKeys {
			job, err := b.Expand(runId, scenarioKey, runNumber)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func toJob(node *Node) (*batchv1.Job, error) {
	data, err := json.Marshal(node.Interface())
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode expanded template")
	}
	job := &batchv1.Job{}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, errors.Wrap(err, "expanded template is not a valid batch job")
	}
	return job, nil
}

func applyLabels(job *batchv1.Job, runId string, scenarioKey string, runNumber int) {
	labels := map[string]string{
		domain.JobGroupLabel:  domain.JobGroupValue,
		domain.RunIdLabel:     runId,
		domain.ScenarioLabel:  SanitizeKey(scenarioKey),
		domain.RunNumberLabel: strconv.Itoa(runNumber),
	}

	if job.Labels == nil {
		job.Labels = map[string]string{}
	}
	if job.Spec.Template.Labels == nil {
		job.Spec.Template.Labels = map[string]string{}
	}
	for k, v := range labels {
		job.Labels[k] = v
		job.Spec.Template.Labels[k] = v
	}
}

// attachStorage appends the shared volume and gives the main container the
// two mounts every job owns: read-only scenario inputs and its private
// output directory.
func (b *Builder) attachStorage(job *batchv1.Job, runId string, scenarioKey string, runNumber int) {
	if len(b.volumes) == 0 || len(job.Spec.Template.Spec.Containers) == 0 {
		return
	}

	job.Spec.Template.Spec.Volumes = append(job.Spec.Template.Spec.Volumes, b.volumes...)

	volumeName := b.volumes[0].Name
	container := &job.Spec.Template.Spec.Containers[0]
	container.VolumeMounts = append(container.VolumeMounts,
		v1.VolumeMount{
			Name:      volumeName,
			MountPath: inputMountPath,
			SubPath:   fmt.Sprintf("config/%s/%s", runId, scenarioKey),
			ReadOnly:  true,
		},
		v1.VolumeMount{
			Name:      volumeName,
			MountPath: outputMountPath,
			SubPath:   fmt.Sprintf("out/%s/%s/%d", runId, scenarioKey, runNumber),
		},
	)
}

func addExecutionEnv(job *batchv1.Job, runId string, scenarioKey string, runNumber int) {
	if len(job.Spec.Template.Spec.Containers) == 0 {
		return
	}
	container := &job.Spec.Template.Spec.Containers[0]
	container.Env = append(container.Env,
		v1.EnvVar{Name: "SCENEX_RUN_ID", Value: runId},
		v1.EnvVar{Name: "SCENEX_RUN_NUM", Value: strconv.Itoa(runNumber)},
		v1.EnvVar{Name: "SCENEX_SCENARIO", Value: scenarioKey},
	)
}
