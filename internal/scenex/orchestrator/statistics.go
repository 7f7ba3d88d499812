package orchestrator

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/scenexproject/scenex/internal/scenex/domain"
)

// RunStatistics is the reduction of one orchestration run: every submitted
// job's observed outcome plus the run's wall-clock bounds.
type RunStatistics struct {
	RunId    string
	RunStart time.Time
	RunEnd   time.Time
	Jobs     []domain.JobRecord
}

func (s *RunStatistics) CompletedJobs() []domain.JobRecord {
	return s.jobsInPhase(domain.JobSucceeded)
}

func (s *RunStatistics) FailedJobs() []domain.JobRecord {
	return s.jobsInPhase(domain.JobFailed)
}

// UnknownJobs are jobs that exist but report no timestamps. They count as a
// soft warning, not an error.
func (s *RunStatistics) UnknownJobs() []domain.JobRecord {
	var unknown []domain.JobRecord
	for _, job := range s.Jobs {
		if !job.Terminal() {
			unknown = append(unknown, job)
		}
	}
	return unknown
}

func (s *RunStatistics) jobsInPhase(phase domain.JobPhase) []domain.JobRecord {
	var matching []domain.JobRecord
	for _, job := range s.Jobs {
		if job.Phase == phase {
			matching = append(matching, job)
		}
	}
	return matching
}

// DurationSummary reduces completed-job durations. Median uses the standard
// even/odd formula; fastest and slowest identify the jobs at the extremes.
type DurationSummary struct {
	Average time.Duration
	Median  time.Duration
	Min     time.Duration
	Max     time.Duration
	Fastest string
	Slowest string
}

// Durations summarizes completed jobs only. The second return value is false
// when no job completed.
func (s *RunStatistics) Durations() (DurationSummary, bool) {
	completed := s.CompletedJobs()
	if len(completed) == 0 {
		return DurationSummary{}, false
	}

	durations := make([]time.Duration, 0, len(completed))
	var total time.Duration
	summary := DurationSummary{}
	for _, job := range completed {
		duration, _ := job.Duration()
		durations = append(durations, duration)
		total += duration
		if summary.Fastest == "" || duration < summary.Min {
			summary.Min = duration
			summary.Fastest = job.Name
		}
		if summary.Slowest == "" || duration > summary.Max {
			summary.Max = duration
			summary.Slowest = job.Name
		}
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	count := len(durations)
	if count%2 == 0 {
		summary.Median = (durations[count/2-1] + durations[count/2]) / 2
	} else {
		summary.Median = durations[count/2]
	}
	summary.Average = total / time.Duration(count)
	return summary, true
}

const failedJobsShown = 10

// Report writes the human-readable run summary.
func (s *RunStatistics) Report(w io.Writer) {
	header := color.New(color.Bold)
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)

	divider := strings.Repeat("=", 80)
	fmt.Fprintln(w, divider)
	header.Fprintln(w, "RUN STATISTICS")
	fmt.Fprintln(w, divider)

	if !s.RunStart.IsZero() && !s.RunEnd.IsZero() {
		fmt.Fprintf(w, "Total run duration: %s\n", FormatDuration(s.RunEnd.Sub(s.RunStart)))
		fmt.Fprintf(w, "Run started: %s\n", s.RunStart.UTC().Format("2006-01-02 15:04:05 UTC"))
		fmt.Fprintf(w, "Run ended: %s\n\n", s.RunEnd.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	completed := s.CompletedJobs()
	failed := s.FailedJobs()
	unknown := s.UnknownJobs()
	fmt.Fprintf(w, "Total jobs: %d\n", len(s.Jobs))
	good.Fprintf(w, "Completed successfully: %d\n", len(completed))
	bad.Fprintf(w, "Failed: %d\n", len(failed))
	if len(unknown) > 0 {
		fmt.Fprintf(w, "Unknown (no timestamps reported): %d\n", len(unknown))
	}
	fmt.Fprintln(w)

	if summary, ok := s.Durations(); ok {
		header.Fprintln(w, "Job Duration Statistics (completed jobs only):")
		fmt.Fprintf(w, "  Average: %s\n", FormatDuration(summary.Average))
		fmt.Fprintf(w, "  Median:  %s\n", FormatDuration(summary.Median))
		fmt.Fprintf(w, "  Minimum: %s\n", FormatDuration(summary.Min))
		fmt.Fprintf(w, "  Maximum: %s\n\n", FormatDuration(summary.Max))
		fmt.Fprintf(w, "Fastest job: %s (%s)\n", summary.Fastest, FormatDuration(summary.Min))
		fmt.Fprintf(w, "Slowest job: %s (%s)\n\n", summary.Slowest, FormatDuration(summary.Max))
	}

	if len(failed) > 0 {
		bad.Fprintln(w, "Failed jobs:")
		for i, job := range failed {
			if i == failedJobsShown {
				fmt.Fprintf(w, "  ... and %d more failed jobs\n", len(failed)-failedJobsShown)
				break
			}
			if duration, ok := job.Duration(); ok {
				fmt.Fprintf(w, "  %s (duration: %s)\n", job.Name, FormatDuration(duration))
			} else if job.StartTime != nil {
				fmt.Fprintf(w, "  %s (duration: Unknown)\n", job.Name)
			} else {
				fmt.Fprintf(w, "  %s (never started)\n", job.Name)
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, divider)
}

// FormatDuration renders a duration the way an operator reads it: seconds
// under a minute, then minute and hour groupings.
func FormatDuration(d time.Duration) string {
	seconds := d.Seconds()
	switch {
	case seconds < 60:
		return fmt.Sprintf("%.1fs", seconds)
	case seconds < 3600:
		minutes := int(seconds) / 60
		return fmt.Sprintf("%dm %.1fs", minutes, seconds-float64(minutes*60))
	default:
		hours := int(seconds) / 3600
		minutes := (int(seconds) % 3600) / 60
		return fmt.Sprintf("%dh %dm %.1fs", hours, minutes, seconds-float64(hours*3600+minutes*60))
	}
}
