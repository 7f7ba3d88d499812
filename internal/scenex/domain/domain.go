package domain

import (
	"fmt"
	"time"
)

const (
	// Label applied to every job and pod this tool creates. Pre-flight and
	// final cleanup delete by this selector.
	JobGroupLabel = "jobgroup"
	JobGroupValue = "scenario-runs"

	RunIdLabel     = "scenex_run_id"
	ScenarioLabel  = "scenex_scenario"
	RunNumberLabel = "scenex_run_number"
)

// Placeholders substituted into the workload template when expanding one
// (scenarioKey, runNumber) pair into a concrete job.
const (
	PlaceholderItem           = "$ITEM"
	PlaceholderRunId          = "$RUN_ID"
	PlaceholderRunNumber      = "$RUN_NUM"
	PlaceholderScenarioConfig = "$SCENARIO_CONFIG"
	PlaceholderScenarioId     = "$SCENARIO_ID"
)

// ScenarioInput is one scenario's input bundle, produced by the variation
// generation tooling and consumed opaquely here.
type ScenarioInput struct {
	// Path to the base scenario definition file. Staged under the canonical
	// name scenario.osc regardless of its original name.
	BasePath string
	// Auxiliary files, relative to the directory of BasePath.
	AuxiliaryFiles []string
	// Directory holding per-variant files, relative to the directory of
	// BasePath. May be empty.
	VariantDir string
	// Per-variant files, relative to VariantDir.
	VariantFiles []string
	// Optional structured variant parameters, serialized to
	// scenario.variant next to the scenario definition.
	VariantParameters map[string]interface{}
}

// ScenarioSet preserves the ordering of the generator's output so job
// submission order is deterministic.
type ScenarioSet struct {
	keys      []string
	scenarios map[string]ScenarioInput
}

func NewScenarioSet() *ScenarioSet {
	return &ScenarioSet{scenarios: map[string]ScenarioInput{}}
}

func (s *ScenarioSet) Add(key string, input ScenarioInput) {
	if _, exists := s.scenarios[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.scenarios[key] = input
}

func (s *ScenarioSet) Keys() []string {
	keys := make([]string, len(s.keys))
	copy(keys, s.keys)
	return keys
}

func (s *ScenarioSet) Get(key string) (ScenarioInput, bool) {
	input, ok := s.scenarios[key]
	return input, ok
}

func (s *ScenarioSet) Len() int {
	return len(s.keys)
}

// NewRunId derives a run identifier from the wall clock. Uniqueness across
// the cluster namespace follows from two orchestrator runs not overlapping
// within the same second, which is a documented operational precondition.
func NewRunId(now time.Time) string {
	return fmt.Sprintf("run-%s", now.Format("2006-01-02-150405"))
}

type JobPhase string

// Observed job lifecycle: Pending and Running come from polling, Succeeded
// and Failed from the final status read, Collected once the outcome has been
// folded into run statistics, CleanedUp after forced deletion.
const (
	JobPending   JobPhase = "Pending"
	JobRunning   JobPhase = "Running"
	JobSucceeded JobPhase = "Succeeded"
	JobFailed    JobPhase = "Failed"
	JobCollected JobPhase = "Collected"
	JobCleanedUp JobPhase = "CleanedUp"
)

// JobRecord is the orchestrator's observation of one submitted job. State is
// observed by polling, never driven, except for the forced deletion at
// cleanup time.
type JobRecord struct {
	Name           string
	ScenarioKey    string
	RunNumber      int
	Phase          JobPhase
	StartTime      *time.Time
	CompletionTime *time.Time
	Succeeded      int32
	Failed         int32
}

func (r *JobRecord) Duration() (time.Duration, bool) {
	if r.StartTime == nil || r.CompletionTime == nil {
		return 0, false
	}
	return r.CompletionTime.Sub(*r.StartTime), true
}

// Terminal reports whether the job's outcome has been observed. A failed job
// is terminal; failures are recorded, not retried.
func (r *JobRecord) Terminal() bool {
	switch r.Phase {
	case JobSucceeded, JobFailed, JobCollected, JobCleanedUp:
		return true
	}
	return false
}
