// Package msched abstracts the batch compute backends that run molt
// transformation jobs: AWS Batch in production, Kubernetes Jobs and
// local Docker containers elsewhere.
package msched

import (
	"context"
	"time"
)

// State is a job's scheduler-reported lifecycle state. The names follow
// the AWS Batch state machine; the other backends map onto the same set.
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StatePending   State = "PENDING"
	StateRunnable  State = "RUNNABLE"
	StateStarting  State = "STARTING"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"

	// StateUnknown marks a job id the backend no longer reports.
	StateUnknown State = "UNKNOWN"
)

// Terminal reports whether a job in this state is finished.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// SubmitSpec describes one job submission.
type SubmitSpec struct {
	Name       string
	Queue      string            // job queue (AWS Batch) or Kueue local queue (Kubernetes)
	Definition string            // job definition reference (AWS Batch only)
	Command    []string          // container command override
	Env        map[string]string // extra container environment
	Tags       map[string]string
}

// JobDetail is the live description of a submitted job.
type JobDetail struct {
	ID           string
	Name         string
	Status       State
	StatusReason string
	CreatedAt    *time.Time
	StartedAt    *time.Time
	StoppedAt    *time.Time
	ExitCode     *int
	LogGroup     string
	LogStream    string
	Command      []string
	Env          map[string]string
}

// Scheduler submits and tracks transformation jobs on a compute backend.
type Scheduler interface {
	// Submit sends one job and returns the backend's job id.
	Submit(ctx context.Context, spec SubmitSpec) (string, error)

	// Describe returns live details for up to 100 job ids. Ids the
	// backend no longer knows are omitted from the result.
	Describe(ctx context.Context, ids []string) ([]JobDetail, error)

	// Terminate stops a job. The reason is recorded where the backend
	// supports it.
	Terminate(ctx context.Context, id, reason string) error

	// RecentLogs returns up to limit of the job's most recent log
	// lines, newest first.
	RecentLogs(ctx context.Context, job *JobDetail, limit int) ([]string, error)
}

// newestFirst reverses log lines in place so callers see the most
// recent line first.
func newestFirst(lines []string) []string {
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}
