package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/moltlabs/molt/pkg/mapi/schemas"
	"github.com/moltlabs/molt/pkg/mbatch"
)

// SubmitJobInput defines the input for a single job submission
type SubmitJobInput struct {
	Body schemas.SubmitJobRequest
}

// SubmitJobOutput is the response for a single job submission
type SubmitJobOutput struct {
	Body schemas.SubmitJobResponse
}

// GetJobStatusInput defines the input for a job status read
type GetJobStatusInput struct {
	JobID string `path:"jobId" doc:"Scheduler job ID"`
}

// GetJobStatusOutput is the response for a job status read
type GetJobStatusOutput struct {
	Body schemas.JobStatusResponse
}

// TerminateJobInput defines the input for terminating a job. The reason
// can come from the query string or from an optional JSON body.
type TerminateJobInput struct {
	JobID   string `path:"jobId" doc:"Scheduler job ID"`
	Reason  string `query:"reason" doc:"Reason recorded on the job" required:"false"`
	RawBody []byte
}

// TerminateJobOutput is the response for terminating a job
type TerminateJobOutput struct {
	Body schemas.TerminateJobResponse
}

// RegisterJobs registers single-job routes
func RegisterJobs(api huma.API, svc *mbatch.Service) {
	// Submit one job
	huma.Register(api, huma.Operation{
		OperationID: "submit-job",
		Method:      http.MethodPost,
		Path:        "/jobs",
		Summary:     "Submit a job",
		Description: "Submit one transformation job for execution",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *SubmitJobInput) (*SubmitJobOutput, error) {
		result, err := svc.SubmitJob(ctx, &mbatch.SubmitJobRequest{
			Source:      input.Body.Source,
			Output:      input.Body.Output,
			Command:     input.Body.Command,
			JobName:     input.Body.JobName,
			Environment: input.Body.Environment,
			Tags:        input.Body.Tags,
		})
		if err != nil {
			var ve *mbatch.ValidationError
			if errors.As(err, &ve) {
				return nil, huma.Error400BadRequest(ve.Message)
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to submit job: %v", err))
		}

		resp := &SubmitJobOutput{}
		resp.Body = schemas.SubmitJobResponse{
			Message:     "Job submitted successfully. Use batchJobId to check status.",
			BatchJobID:  result.BatchJobID,
			JobName:     result.JobName,
			Status:      result.Status,
			SubmittedAt: result.SubmittedAt,
		}
		return resp, nil
	})

	// Job status
	huma.Register(api, huma.Operation{
		OperationID: "get-job-status",
		Method:      http.MethodGet,
		Path:        "/jobs/{jobId}",
		Summary:     "Get job status",
		Description: "Get the current state of one job",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *GetJobStatusInput) (*GetJobStatusOutput, error) {
		view, err := svc.JobStatus(ctx, input.JobID)
		if err != nil {
			if errors.Is(err, mbatch.ErrJobNotFound) {
				return nil, huma.Error404NotFound(fmt.Sprintf("Job not found: %s", input.JobID))
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to get job status: %v", err))
		}

		resp := &GetJobStatusOutput{Body: toJobStatusResponse(view)}
		return resp, nil
	})

	// Terminate job
	huma.Register(api, huma.Operation{
		OperationID: "terminate-job",
		Method:      http.MethodDelete,
		Path:        "/jobs/{jobId}",
		Summary:     "Terminate a job",
		Description: "Stop a job that hasn't finished yet",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, input *TerminateJobInput) (*TerminateJobOutput, error) {
		reason := input.Reason
		if reason == "" && len(input.RawBody) > 0 {
			var body schemas.TerminateJobRequest
			if err := json.Unmarshal(input.RawBody, &body); err == nil {
				reason = body.Reason
			}
		}

		result, err := svc.TerminateJob(ctx, input.JobID, reason)
		if err != nil {
			if errors.Is(err, mbatch.ErrJobNotFound) {
				return nil, huma.Error404NotFound(fmt.Sprintf("Job %s not found", input.JobID))
			}
			var tse *mbatch.TerminalStateError
			if errors.As(err, &tse) {
				return nil, huma.Error400BadRequest(tse.Error())
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to terminate job: %v", err))
		}

		resp := &TerminateJobOutput{}
		resp.Body = schemas.TerminateJobResponse{
			Message:        "Job termination initiated",
			JobID:          result.JobID,
			Reason:         result.Reason,
			PreviousStatus: result.PreviousStatus,
			CurrentStatus:  result.CurrentStatus,
			TerminatedAt:   result.TerminatedAt,
		}
		return resp, nil
	})
}

// toJobStatusResponse converts a mbatch.JobStatusView to a schemas.JobStatusResponse
func toJobStatusResponse(view *mbatch.JobStatusView) schemas.JobStatusResponse {
	resp := schemas.JobStatusResponse{
		BatchJobID:   view.BatchJobID,
		JobName:      view.JobName,
		Status:       string(view.Status),
		StatusReason: view.StatusReason,
		SubmittedAt:  formatTime(view.SubmittedAt),
		StartedAt:    formatTime(view.StartedAt),
		CompletedAt:  formatTime(view.CompletedAt),
		Duration:     view.Duration,
		ExitCode:     view.ExitCode,
		LogGroup:     view.LogGroup,
		LogStream:    view.LogStream,
	}

	if view.ConversationID != "" {
		resp.MoltConversationID = &view.ConversationID
	}
	if view.S3OutputPath != "" {
		resp.S3OutputPath = &view.S3OutputPath
	}

	return resp
}

// formatTime renders an optional timestamp as RFC3339, nil when unset
func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
