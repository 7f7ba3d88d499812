package orchestrator

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenexproject/scenex/internal/scenex/domain"
)

func completedJob(name string, duration time.Duration) domain.JobRecord {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(duration)
	return domain.JobRecord{
		Name:           name,
		Phase:          domain.JobSucceeded,
		StartTime:      &start,
		CompletionTime: &end,
		Succeeded:      1,
	}
}

func failedJob(name string) domain.JobRecord {
	return domain.JobRecord{Name: name, Phase: domain.JobFailed, Failed: 1}
}

func TestDurations_OddCountUsesMiddleValue(t *testing.T) {
	statistics := &RunStatistics{Jobs: []domain.JobRecord{
		completedJob("job-a", 10*time.Second),
		completedJob("job-b", 20*time.Second),
		completedJob("job-c", 30*time.Second),
	}}

	summary, ok := statistics.Durations()

	require.True(t, ok)
	assert.Equal(t, 20*time.Second, summary.Average)
	assert.Equal(t, 20*time.Second, summary.Median)
	assert.Equal(t, 10*time.Second, summary.Min)
	assert.Equal(t, 30*time.Second, summary.Max)
	assert.Equal(t, "job-a", summary.Fastest)
	assert.Equal(t, "job-c", summary.Slowest)
}

func TestDurations_EvenCountAveragesMiddleValues(t *testing.T) {
	statistics := &RunStatistics{Jobs: []domain.JobRecord{
		completedJob("job-a", 10*time.Second),
		completedJob("job-b", 20*time.Second),
	}}

	summary, ok := statistics.Durations()

	require.True(t, ok)
	assert.Equal(t, 15*time.Second, summary.Median)
}

func TestDurations_IgnoresFailedJobs(t *testing.T) {
	statistics := &RunStatistics{Jobs: []domain.JobRecord{
		completedJob("job-a", 10*time.Second),
		failedJob("job-b"),
	}}

	summary, ok := statistics.Durations()

	require.True(t, ok)
	assert.Equal(t, 10*time.Second, summary.Average)
	assert.Equal(t, 10*time.Second, summary.Max)
}

func TestDurations_NoCompletedJobs(t *testing.T) {
	statistics := &RunStatistics{Jobs: []domain.JobRecord{failedJob("job-a")}}

	_, ok := statistics.Durations()

	assert.False(t, ok)
}

func TestReport_ListsFirstTenFailedJobsWithRemainderCount(t *testing.T) {
	statistics := &RunStatistics{}
	for i := 0; i < 12; i++ {
		statistics.Jobs = append(statistics.Jobs, failedJob(fmt.Sprintf("job-%d", i)))
	}

	var output bytes.Buffer
	statistics.Report(&output)

	assert.Contains(t, output.String(), "job-0 (never started)")
	assert.Contains(t, output.String(), "job-9 (never started)")
	assert.NotContains(t, output.String(), "job-10 (never started)")
	assert.Contains(t, output.String(), "... and 2 more failed jobs")
}

func TestReport_CountsUnknownJobs(t *testing.T) {
	statistics := &RunStatistics{Jobs: []domain.JobRecord{
		completedJob("job-a", 10*time.Second),
		{Name: "job-b", Phase: domain.JobPending},
	}}

	var output bytes.Buffer
	statistics.Report(&output)

	assert.Contains(t, output.String(), "Unknown (no timestamps reported): 1")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45.0s", FormatDuration(45*time.Second))
	assert.Equal(t, "2m 5.0s", FormatDuration(125*time.Second))
	assert.Equal(t, "1h 2m 5.0s", FormatDuration(3725*time.Second))
}
