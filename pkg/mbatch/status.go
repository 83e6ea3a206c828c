package mbatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/moltlabs/molt/pkg/msched"
	"github.com/moltlabs/molt/pkg/mstore"
)

// describeChunkSize is the scheduler's per-call describe limit.
const describeChunkSize = 100

// maxFailedJobs caps the failure list in status responses; totalFailed
// still reports the true count.
const maxFailedJobs = 10

// Overall batch states reported by BatchStatus.
const (
	BatchProcessing = "PROCESSING"
	BatchPending    = "PENDING"
	BatchRunning    = "RUNNING"
	BatchCompleted  = "COMPLETED"
	BatchFailed     = "FAILED"
)

// StatusCounts tallies jobs by scheduler state. The field set is the
// fixed scheduler state machine; UNKNOWN jobs are not counted.
type StatusCounts struct {
	Submitted int `json:"SUBMITTED"`
	Pending   int `json:"PENDING"`
	Runnable  int `json:"RUNNABLE"`
	Starting  int `json:"STARTING"`
	Running   int `json:"RUNNING"`
	Succeeded int `json:"SUCCEEDED"`
	Failed    int `json:"FAILED"`
}

func (c *StatusCounts) add(state msched.State) {
	switch state {
	case msched.StateSubmitted:
		c.Submitted++
	case msched.StatePending:
		c.Pending++
	case msched.StateRunnable:
		c.Runnable++
	case msched.StateStarting:
		c.Starting++
	case msched.StateRunning:
		c.Running++
	case msched.StateSucceeded:
		c.Succeeded++
	case msched.StateFailed:
		c.Failed++
	}
}

// FailedJob is one entry in the truncated failure list.
type FailedJob struct {
	JobName    string  `json:"jobName"`
	BatchJobID *string `json:"batchJobId"`
	Error      string  `json:"error"`
}

// JobOutcomeView is a job's recorded outcome plus the scheduler's
// current state. CurrentStatus stays empty for jobs that never got a
// backend id.
type JobOutcomeView struct {
	SubmissionOutcome
	CurrentStatus msched.State `json:"currentStatus,omitempty"`
}

// effectiveState prefers the live state over the recorded one.
func (v *JobOutcomeView) effectiveState() msched.State {
	if v.CurrentStatus != "" {
		return v.CurrentStatus
	}
	if v.Status != "" {
		return msched.State(v.Status)
	}
	return msched.StateFailed
}

// BatchStatusView aggregates a batch's current state from its outcome
// record and a live scheduler query. It is recomputed on every call
// and never persisted.
type BatchStatusView struct {
	BatchID      string
	BatchName    string
	Status       string
	TotalJobs    int
	Progress     float64
	StatusCounts StatusCounts
	SubmittedAt  string
	S3Input      string
	S3Output     string
	FailedJobs   []FailedJob
	TotalFailed  int
}

// BatchStatus recomputes the aggregate view of one batch. When no job
// ever reached the scheduler the batch is reported FAILED without a
// backend query.
func (s *Service) BatchStatus(ctx context.Context, batchID string) (*BatchStatusView, error) {
	record, err := s.loadOutcome(ctx, batchID)
	if err != nil {
		return nil, err
	}

	view := &BatchStatusView{
		BatchID:     batchID,
		BatchName:   record.BatchName,
		TotalJobs:   record.TotalJobs,
		SubmittedAt: record.SubmittedAt,
		S3Input:     mstore.URI(s.source.Bucket(), IntentKey(batchID)),
		S3Output:    mstore.URI(s.output.Bucket(), OutcomeKey(batchID)),
	}

	jobs := make([]JobOutcomeView, len(record.Jobs))
	for i, o := range record.Jobs {
		jobs[i] = JobOutcomeView{SubmissionOutcome: o}
	}

	ids := submittedIDs(record.Jobs)
	if len(ids) == 0 {
		view.Status = BatchFailed
		view.StatusCounts.Failed = record.TotalJobs
		view.FailedJobs, view.TotalFailed = failedJobs(jobs)
		return view, nil
	}

	states, err := s.describeAll(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to describe batch %s jobs: %w", batchID, err)
	}
	annotate(jobs, states)

	for i := range jobs {
		view.StatusCounts.add(jobs[i].effectiveState())
	}

	completed := view.StatusCounts.Succeeded + view.StatusCounts.Failed
	switch {
	case completed == record.TotalJobs:
		view.Status = BatchCompleted
	case view.StatusCounts.Running > 0 || view.StatusCounts.Starting > 0:
		view.Status = BatchRunning
	case view.StatusCounts.Runnable > 0 || view.StatusCounts.Pending > 0:
		view.Status = BatchPending
	default:
		view.Status = BatchProcessing
	}

	if record.TotalJobs > 0 {
		ratio := float64(completed) / float64(record.TotalJobs)
		view.Progress = math.Round(ratio*1000) / 10
	}

	view.FailedJobs, view.TotalFailed = failedJobs(jobs)
	return view, nil
}

// loadOutcome reads the batch's outcome record. A missing record means
// the batch id is unknown or its submission phase hasn't finished yet;
// callers see both as not found.
func (s *Service) loadOutcome(ctx context.Context, batchID string) (*OutcomeRecord, error) {
	body, err := s.output.Download(ctx, OutcomeKey(batchID))
	if err != nil {
		if errors.Is(err, mstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
		}
		return nil, fmt.Errorf("failed to load outcome record for %s: %w", batchID, err)
	}
	defer body.Close()

	var record OutcomeRecord
	if err := json.NewDecoder(body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode outcome record for %s: %w", batchID, err)
	}
	return &record, nil
}

func submittedIDs(outcomes []SubmissionOutcome) []string {
	ids := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.BatchJobID != nil && *o.BatchJobID != "" {
			ids = append(ids, *o.BatchJobID)
		}
	}
	return ids
}

// describeAll queries live job states in chunks of the scheduler's
// describe limit.
func (s *Service) describeAll(ctx context.Context, ids []string) (map[string]msched.State, error) {
	states := make(map[string]msched.State, len(ids))
	for start := 0; start < len(ids); start += describeChunkSize {
		chunk := ids[start:min(start+describeChunkSize, len(ids))]
		details, err := s.sched.Describe(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, d := range details {
			states[d.ID] = d.Status
		}
	}
	return states, nil
}

// annotate merges live states into the job views. Submitted jobs the
// scheduler no longer reports become UNKNOWN.
func annotate(jobs []JobOutcomeView, states map[string]msched.State) {
	for i := range jobs {
		if jobs[i].BatchJobID == nil || *jobs[i].BatchJobID == "" {
			continue
		}
		state, ok := states[*jobs[i].BatchJobID]
		if !ok {
			state = msched.StateUnknown
		}
		jobs[i].CurrentStatus = state
	}
}

// failedJobs builds the truncated failure list: submission failures
// (no backend id) plus jobs the scheduler reports FAILED.
func failedJobs(jobs []JobOutcomeView) ([]FailedJob, int) {
	failed := make([]FailedJob, 0, maxFailedJobs)
	total := 0
	for i := range jobs {
		v := &jobs[i]
		submitFailed := v.Status == OutcomeFailed && (v.BatchJobID == nil || *v.BatchJobID == "")
		if v.CurrentStatus != msched.StateFailed && !submitFailed {
			continue
		}
		total++
		if len(failed) < maxFailedJobs {
			msg := v.Error
			if msg == "" {
				msg = "Job failed during execution"
			}
			failed = append(failed, FailedJob{JobName: v.JobName, BatchJobID: v.BatchJobID, Error: msg})
		}
	}
	return failed, total
}
