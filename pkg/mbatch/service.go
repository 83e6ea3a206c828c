// Package mbatch is the transformation-job pipeline: it validates and
// durably records batch requests, submits their jobs to a compute
// backend through a rate-limited worker pool, and aggregates live
// status on demand.
package mbatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moltlabs/molt/pkg/kv"
	"github.com/moltlabs/molt/pkg/mlog"
	"github.com/moltlabs/molt/pkg/mqueue"
	"github.com/moltlabs/molt/pkg/msched"
	"github.com/moltlabs/molt/pkg/mstore"
)

// Service runs the pipeline. Accept records a batch and hands it off;
// RunSubmission (usually on a separate worker) performs the submission
// phase; the status methods are stateless reads.
type Service struct {
	source mstore.Store
	output mstore.Store
	sched  msched.Scheduler
	queue  mqueue.Queue
	locks  kv.Store
	log    *mlog.Logger

	jobQueue      string
	jobDefinition string
	workers       int
	rate          int

	now func() time.Time
}

// Config wires a Service.
type Config struct {
	Source    mstore.Store // intent records, uploads, shared config
	Output    mstore.Store // outcome records and transformation results
	Scheduler msched.Scheduler
	Queue     mqueue.Queue
	Locks     kv.Store // optional; dispatch dedup is skipped when nil
	Log       *mlog.Logger

	JobQueue      string
	JobDefinition string
	SubmitWorkers int // concurrent submissions, default 10
	SubmitRate    int // submissions per second, default 50
}

// NewService builds the pipeline service.
func NewService(cfg Config) *Service {
	log := cfg.Log
	if log == nil {
		log = mlog.NewDefault()
	}
	workers := cfg.SubmitWorkers
	if workers <= 0 {
		workers = defaultSubmitWorkers
	}
	rate := cfg.SubmitRate
	if rate <= 0 {
		rate = defaultSubmitRate
	}
	return &Service{
		source:        cfg.Source,
		output:        cfg.Output,
		sched:         cfg.Scheduler,
		queue:         cfg.Queue,
		locks:         cfg.Locks,
		log:           log,
		jobQueue:      cfg.JobQueue,
		jobDefinition: cfg.JobDefinition,
		workers:       workers,
		rate:          rate,
		now:           time.Now,
	}
}

// AcceptResult is returned once the batch intent is durably recorded.
type AcceptResult struct {
	BatchID   string
	TotalJobs int
	S3Input   string
}

// Accept validates a batch request, records it durably, and hands the
// submission work to the background phase. The intent write must
// succeed before the caller learns the batch id: it is the record of
// truth if the submission phase dies before writing an outcome.
//
// rawBody, when present, is the caller's original JSON; extra fields it
// carries are preserved in the intent record.
func (s *Service) Accept(ctx context.Context, req *BatchRequest, rawBody []byte) (*AcceptResult, error) {
	if err := ValidateBatch(req); err != nil {
		return nil, err
	}
	if req.BatchName == "" {
		req.BatchName = "batch"
	}

	batchID := NewBatchID(s.now())

	record, err := intentRecord(req, rawBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode intent record: %w", err)
	}
	key := IntentKey(batchID)
	if _, err := s.source.Upload(ctx, key, bytes.NewReader(record), int64(len(record)), "application/json"); err != nil {
		return nil, fmt.Errorf("failed to record batch intent: %w", err)
	}

	task, err := json.Marshal(SubmissionTask{
		BatchID:   batchID,
		BatchName: req.BatchName,
		TotalJobs: len(req.Jobs),
		Jobs:      req.Jobs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode submission task: %w", err)
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to hand off batch %s: %w", batchID, err)
	}

	s.log.Info("Batch accepted", "batchId", batchID, "totalJobs", len(req.Jobs))

	return &AcceptResult{
		BatchID:   batchID,
		TotalJobs: len(req.Jobs),
		S3Input:   mstore.URI(s.source.Bucket(), key),
	}, nil
}

// intentRecord renders the caller's request with derived job names
// merged in. Extra caller fields survive the round trip.
func intentRecord(req *BatchRequest, rawBody []byte) ([]byte, error) {
	if len(rawBody) > 0 {
		var doc map[string]any
		if err := json.Unmarshal(rawBody, &doc); err == nil {
			if jobs, ok := doc["jobs"].([]any); ok && len(jobs) == len(req.Jobs) {
				for i, j := range jobs {
					if m, ok := j.(map[string]any); ok {
						m["jobName"] = req.Jobs[i].JobName
					}
				}
				return json.MarshalIndent(doc, "", "  ")
			}
		}
	}
	return json.MarshalIndent(req, "", "  ")
}

// SubmitJobRequest is a single ad-hoc job submission.
type SubmitJobRequest struct {
	Source      string            `json:"source,omitempty"`
	Output      string            `json:"output,omitempty"`
	Command     string            `json:"command"`
	JobName     string            `json:"jobName,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// SubmitJobResult echoes a single-job submission.
type SubmitJobResult struct {
	BatchJobID  string
	JobName     string
	Status      string
	SubmittedAt string
}

// SubmitJob submits one ad-hoc job straight to the scheduler, skipping
// the batch pipeline.
func (s *Service) SubmitJob(ctx context.Context, req *SubmitJobRequest) (*SubmitJobResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, &ValidationError{JobIndex: -1, Message: "Missing required field: command"}
	}
	if err := ValidateCommand(req.Command); err != nil {
		return nil, &ValidationError{JobIndex: -1, Message: fmt.Sprintf("Invalid command: %s", err)}
	}
	if req.Source != "" {
		if err := ValidateSource(req.Source); err != nil {
			return nil, &ValidationError{JobIndex: -1, Message: err.Error()}
		}
	}

	jobName := req.JobName
	if jobName == "" {
		jobName = DeriveJobName(req.Source, req.Command)
	} else {
		jobName = SanitizeJobName(jobName)
	}

	// Results follow the batch layout unless the caller picked a prefix.
	output := req.Output
	if output == "" {
		output = OutputPrefix(jobName)
	}

	env := map[string]string{"S3_BUCKET": s.output.Bucket()}
	for k, v := range req.Environment {
		env[k] = v
	}

	id, err := s.sched.Submit(ctx, msched.SubmitSpec{
		Name:       jobName,
		Queue:      s.jobQueue,
		Definition: s.jobDefinition,
		Command:    containerCommand(req.Source, output, req.Command),
		Env:        env,
		Tags:       req.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit job %s: %w", jobName, err)
	}

	s.log.Info("Job submitted", "jobName", jobName, "batchJobId", id)

	return &SubmitJobResult{
		BatchJobID:  id,
		JobName:     jobName,
		Status:      string(msched.StateSubmitted),
		SubmittedAt: s.now().UTC().Format(time.RFC3339),
	}, nil
}

// genericExitReason is the boilerplate the scheduler attaches to any
// container exit; it adds nothing over the FAILED status itself.
const genericExitReason = "Essential container in task exited"

// JobStatusView is a point-in-time view of one scheduler job, with the
// conversation id resolved once the job has finished.
type JobStatusView struct {
	BatchJobID     string
	JobName        string
	Status         msched.State
	StatusReason   string
	SubmittedAt    *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Duration       *int // seconds
	ConversationID string
	S3OutputPath   string
	ExitCode       *int
	LogGroup       string
	LogStream      string
}

// JobStatus describes one job. For finished jobs it also tries to
// resolve the conversation id and the output location.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*JobStatusView, error) {
	details, err := s.sched.Describe(ctx, []string{jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to describe job %s: %w", jobID, err)
	}
	if len(details) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	job := details[0]

	view := &JobStatusView{
		BatchJobID:  job.ID,
		JobName:     job.Name,
		Status:      job.Status,
		SubmittedAt: job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.StoppedAt,
		Duration:    durationSec(job.StartedAt, job.StoppedAt),
		ExitCode:    job.ExitCode,
		LogGroup:    job.LogGroup,
		LogStream:   job.LogStream,
	}

	if job.Status == msched.StateFailed && job.StatusReason != "" && job.StatusReason != genericExitReason {
		view.StatusReason = job.StatusReason
	}

	if job.Status.Terminal() {
		if conv := s.ConversationID(ctx, &job); conv != "" {
			view.ConversationID = conv
			if bucket := job.Env["S3_BUCKET"]; bucket != "" {
				view.S3OutputPath = mstore.URI(bucket, jobOutputPrefix(job.Command)+conv+"/")
			}
		}
	}

	return view, nil
}

// durationSec is the whole-second run time, nil until both endpoints
// exist.
func durationSec(start, stop *time.Time) *int {
	if start == nil || stop == nil {
		return nil
	}
	d := int(stop.Sub(*start) / time.Second)
	return &d
}

// TerminateResult echoes a termination request.
type TerminateResult struct {
	JobID          string
	Reason         string
	PreviousStatus string
	CurrentStatus  string
	TerminatedAt   string
}

// TerminateJob stops a job that hasn't finished yet. Finished jobs are
// refused with a TerminalStateError.
func (s *Service) TerminateJob(ctx context.Context, jobID, reason string) (*TerminateResult, error) {
	if reason == "" {
		reason = "Terminated by user"
	}

	details, err := s.sched.Describe(ctx, []string{jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to describe job %s: %w", jobID, err)
	}
	if len(details) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	previous := details[0].Status
	if previous.Terminal() {
		return nil, &TerminalStateError{JobID: jobID, Status: string(previous)}
	}

	if err := s.sched.Terminate(ctx, jobID, reason); err != nil {
		return nil, fmt.Errorf("failed to terminate job %s: %w", jobID, err)
	}

	// Best effort: the state may not have moved yet.
	current := previous
	if post, err := s.sched.Describe(ctx, []string{jobID}); err == nil && len(post) > 0 {
		current = post[0].Status
	}

	s.log.Info("Job termination initiated", "jobId", jobID, "reason", reason)

	return &TerminateResult{
		JobID:          jobID,
		Reason:         reason,
		PreviousStatus: string(previous),
		CurrentStatus:  string(current),
		TerminatedAt:   s.now().UTC().Format(time.RFC3339),
	}, nil
}

// Upload expiry bounds in seconds.
const (
	DefaultUploadExpiry = 3600
	MaxUploadExpiry     = 86400
	minUploadExpiry     = 60
)

// UploadGrant is a presigned upload slot for a source archive.
type UploadGrant struct {
	UploadURL string
	S3Path    string
	UploadID  string
	Filename  string
	ExpiresIn int
	ExpiresAt string
}

// PresignUpload issues a presigned PUT for a source ZIP. The archive
// lands under uploads/{uploadId}/ in the source bucket.
func (s *Service) PresignUpload(ctx context.Context, filename string, expiresIn int) (*UploadGrant, error) {
	if filename == "" {
		return nil, &ValidationError{JobIndex: -1, Message: "Missing required field: filename"}
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".zip") {
		return nil, &ValidationError{JobIndex: -1, Message: "Only ZIP files are supported. Filename must end with .zip"}
	}
	if expiresIn < minUploadExpiry || expiresIn > MaxUploadExpiry {
		return nil, &ValidationError{JobIndex: -1, Message: fmt.Sprintf("expiresIn must be between %d and %d seconds", minUploadExpiry, MaxUploadExpiry)}
	}

	uploadID := uuid.NewString()
	key := fmt.Sprintf("uploads/%s/%s", uploadID, filename)

	url, err := s.source.PresignedPut(ctx, key, "application/zip", time.Duration(expiresIn)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload %s: %w", key, err)
	}

	return &UploadGrant{
		UploadURL: url,
		S3Path:    mstore.URI(s.source.Bucket(), key),
		UploadID:  uploadID,
		Filename:  filename,
		ExpiresIn: expiresIn,
		ExpiresAt: s.now().UTC().Add(time.Duration(expiresIn) * time.Second).Format(time.RFC3339),
	}, nil
}

// mcpConfigKey is read by every transform container at startup.
const mcpConfigKey = "mcp-config/mcp.json"

// MCPConfigResult records where the shared MCP configuration landed.
type MCPConfigResult struct {
	S3Path    string
	Timestamp string
	Size      int
}

// SaveMCPConfig stores the MCP server configuration that transform
// containers load.
func (s *Service) SaveMCPConfig(ctx context.Context, cfg map[string]any) (*MCPConfigResult, error) {
	if len(cfg) == 0 {
		return nil, &ValidationError{JobIndex: -1, Message: "Request body must contain mcpConfig object"}
	}
	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode mcp config: %w", err)
	}
	if _, err := s.source.Upload(ctx, mcpConfigKey, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return nil, fmt.Errorf("failed to store mcp config: %w", err)
	}

	s.log.Info("MCP configuration saved", "size", len(body))

	return &MCPConfigResult{
		S3Path:    mstore.URI(s.source.Bucket(), mcpConfigKey),
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Size:      len(body),
	}, nil
}
