package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
)

// JobDefinition is one entry of the jobs file. Jobs without an interval and
// without a cron-parseable schedule are manual-only.
type JobDefinition struct {
	Name           string `json:"name"`
	JobHistoryName string `json:"jobHistoryName,omitempty"`
	Description    string `json:"description,omitempty"`

	// Schedule is either a cron expression (fires on wall-clock match) or a
	// free-form human label, which is ignored for dispatch.
	Schedule string `json:"schedule,omitempty"`

	// Interval between scheduled fires, milliseconds. 0 disables.
	Interval int64 `json:"interval,omitempty"`

	// Timeout accepts a number of milliseconds or a string; "0", "", and
	// absent all mean unlimited.
	Timeout any `json:"timeout,omitempty"`

	SkipIfOtherInProgress []string `json:"skipIfOtherInProgress,omitempty"`
	PostExecute           []string `json:"postExecute,omitempty"`
}

// HistoryName is the run-record key: jobHistoryName when set, else the name.
func (d *JobDefinition) HistoryName() string {
	if d.JobHistoryName != "" {
		return d.JobHistoryName
	}
	return d.Name
}

// IntervalDuration returns the scheduled interval, or 0 for manual-only jobs.
func (d *JobDefinition) IntervalDuration() time.Duration {
	if d.Interval <= 0 {
		return 0
	}
	return time.Duration(d.Interval) * time.Millisecond
}

// TimeoutDuration returns the per-run wall-clock limit, or 0 for unlimited.
func (d *JobDefinition) TimeoutDuration() time.Duration {
	ms := cast.ToInt64(d.Timeout)
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// LoadJobs reads and validates the job definitions file.
func LoadJobs(path string) ([]JobDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	var defs []JobDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse jobs file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(defs))
	for i := range defs {
		d := &defs[i]
		if d.Name == "" {
			return nil, fmt.Errorf("jobs file %s: entry %d has no name", path, i)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("jobs file %s: duplicate job %q", path, d.Name)
		}
		seen[d.Name] = true
	}
	for _, d := range defs {
		for _, ref := range append(append([]string{}, d.SkipIfOtherInProgress...), d.PostExecute...) {
			if !seen[ref] {
				return nil, fmt.Errorf("jobs file %s: job %q references unknown job %q", path, d.Name, ref)
			}
		}
	}
	return defs, nil
}
