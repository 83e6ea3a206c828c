package mbatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/moltlabs/molt/pkg/mqueue"
	"github.com/moltlabs/molt/pkg/msched"
	"github.com/moltlabs/molt/pkg/mstore"
)

const (
	defaultSubmitWorkers = 10
	defaultSubmitRate    = 50

	// dispatchLockTTL bounds how long a crashed submission phase can
	// block a redelivered task.
	dispatchLockTTL = time.Hour
)

// SubmissionTask is the queued hand-off from Accept to the submission
// phase.
type SubmissionTask struct {
	BatchID   string    `json:"batchId"`
	BatchName string    `json:"batchName"`
	TotalJobs int       `json:"totalJobs"`
	Jobs      []JobSpec `json:"jobs"`
}

// Submission outcome statuses.
const (
	OutcomeSubmitted = "SUBMITTED"
	OutcomeFailed    = "FAILED"
)

// SubmissionOutcome is the per-job result of the submission phase.
// BatchJobID is null for jobs the scheduler never accepted.
type SubmissionOutcome struct {
	JobName    string  `json:"jobName"`
	BatchJobID *string `json:"batchJobId"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
	Source     string  `json:"source,omitempty"`
	Command    string  `json:"command"`
}

// OutcomeRecord is the immutable submission-phase record for one batch.
// It is written exactly once, after every job has been attempted.
type OutcomeRecord struct {
	BatchID     string              `json:"batchId"`
	BatchName   string              `json:"batchName"`
	TotalJobs   int                 `json:"totalJobs"`
	Submitted   int                 `json:"submitted"`
	Failed      int                 `json:"failed"`
	SubmittedAt string              `json:"submittedAt"`
	Jobs        []SubmissionOutcome `json:"jobs"`
}

// HandleTask consumes one queued submission task. Payloads that don't
// decode are dropped rather than redelivered forever.
func (s *Service) HandleTask(ctx context.Context, body []byte) error {
	var task SubmissionTask
	if err := json.Unmarshal(body, &task); err != nil {
		return fmt.Errorf("%w: undecodable submission task: %v", mqueue.ErrDrop, err)
	}
	if task.BatchID == "" {
		return fmt.Errorf("%w: submission task without batchId", mqueue.ErrDrop)
	}
	return s.RunSubmission(ctx, &task)
}

// dispatchLockKey guards one submission phase per batch across
// redeliveries of the same task.
func dispatchLockKey(batchID string) string {
	return "molt:dispatch:" + batchID
}

// RunSubmission executes the submission phase for one batch: submit
// every job through the rate-limited worker pool, then write the
// outcome record. Duplicate task deliveries are ignored while the
// dispatch lock is held.
func (s *Service) RunSubmission(ctx context.Context, task *SubmissionTask) error {
	if s.locks != nil {
		ok, err := s.locks.SetNX(ctx, dispatchLockKey(task.BatchID), []byte("1"), dispatchLockTTL)
		if err != nil {
			s.log.Warn("Dispatch lock unavailable, proceeding without dedup", "batchId", task.BatchID, "error", err)
		} else if !ok {
			s.log.Info("Duplicate submission task ignored", "batchId", task.BatchID)
			return nil
		}
	}

	s.log.Info("Processing batch", "batchId", task.BatchID, "totalJobs", len(task.Jobs))

	outcomes := s.submitAll(ctx, task.Jobs)

	record := OutcomeRecord{
		BatchID:     task.BatchID,
		BatchName:   task.BatchName,
		TotalJobs:   len(task.Jobs),
		SubmittedAt: s.now().UTC().Format(time.RFC3339),
		Jobs:        outcomes,
	}
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeSubmitted:
			record.Submitted++
		case OutcomeFailed:
			record.Failed++
		}
	}

	body, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return s.failDispatch(ctx, task.BatchID, fmt.Errorf("failed to encode outcome record: %w", err))
	}
	key := OutcomeKey(task.BatchID)
	if _, err := s.output.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return s.failDispatch(ctx, task.BatchID, fmt.Errorf("failed to write outcome record: %w", err))
	}

	s.log.Info("Batch complete",
		"batchId", task.BatchID,
		"submitted", record.Submitted,
		"failed", record.Failed,
		"output", mstore.URI(s.output.Bucket(), key))
	return nil
}

// failDispatch releases the dispatch lock so a redelivered task can
// retry, then reports the failure. The batch is left intent-only until
// a retry succeeds, so the error must reach an operator.
func (s *Service) failDispatch(ctx context.Context, batchID string, err error) error {
	if s.locks != nil {
		if delErr := s.locks.Delete(ctx, dispatchLockKey(batchID)); delErr != nil {
			s.log.Warn("Failed to release dispatch lock", "batchId", batchID, "error", delErr)
		}
	}
	s.log.Error("Submission phase failed, batch left intent-only", "batchId", batchID, "error", err)
	return err
}

// submitAll pushes every job through a bounded worker pool behind a
// token bucket, keeping sustained throughput at the scheduler's
// acceptance rate. One job's failure never blocks the others; outcome
// order is not input order.
func (s *Service) submitAll(ctx context.Context, jobs []JobSpec) []SubmissionOutcome {
	limiter := rate.NewLimiter(rate.Limit(s.rate), s.rate)
	sem := make(chan struct{}, s.workers)
	results := make(chan SubmissionOutcome, len(jobs))

	var wg sync.WaitGroup
	for _, job := range jobs {
		if err := limiter.Wait(ctx); err != nil {
			results <- failedOutcome(job, err)
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(job JobSpec) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- s.submitOne(ctx, job)
		}(job)
	}
	wg.Wait()
	close(results)

	outcomes := make([]SubmissionOutcome, 0, len(jobs))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (s *Service) submitOne(ctx context.Context, job JobSpec) SubmissionOutcome {
	id, err := s.sched.Submit(ctx, msched.SubmitSpec{
		Name:       job.JobName,
		Queue:      s.jobQueue,
		Definition: s.jobDefinition,
		Command:    containerCommand(job.Source, OutputPrefix(job.JobName), job.Command),
		Env:        map[string]string{"S3_BUCKET": s.output.Bucket()},
	})
	if err != nil {
		s.log.Warn("Job submission failed", "jobName", job.JobName, "error", err)
		return failedOutcome(job, err)
	}
	return SubmissionOutcome{
		JobName:    job.JobName,
		BatchJobID: &id,
		Status:     OutcomeSubmitted,
		Source:     job.Source,
		Command:    job.Command,
	}
}

func failedOutcome(job JobSpec, err error) SubmissionOutcome {
	return SubmissionOutcome{
		JobName: job.JobName,
		Status:  OutcomeFailed,
		Error:   err.Error(),
		Source:  job.Source,
		Command: job.Command,
	}
}
