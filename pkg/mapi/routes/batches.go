package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/moltlabs/molt/pkg/mapi/schemas"
	"github.com/moltlabs/molt/pkg/mbatch"
)

// SubmitBatchInput defines the input for a bulk submission. RawBody is
// kept alongside the parsed form so extra fields survive into the
// stored submission record.
type SubmitBatchInput struct {
	RawBody []byte
	Body    schemas.SubmitBatchRequest
}

// SubmitBatchOutput is the response for a bulk submission
type SubmitBatchOutput struct {
	Body schemas.SubmitBatchResponse
}

// GetBatchStatusInput defines the input for a batch status read
type GetBatchStatusInput struct {
	BatchID string `path:"batchId" doc:"Batch ID"`
}

// GetBatchStatusOutput is the response for a batch status read
type GetBatchStatusOutput struct {
	Body schemas.BatchStatusResponse
}

// RegisterBatches registers bulk submission routes
func RegisterBatches(api huma.API, svc *mbatch.Service) {
	// Submit a batch of jobs
	huma.Register(api, huma.Operation{
		OperationID: "submit-batch",
		Method:      http.MethodPost,
		Path:        "/jobs/batch",
		Summary:     "Submit a batch of jobs",
		Description: "Validate the batch, store it, and submit the jobs in the background",
		Tags:        []string{"Batches"},
	}, func(ctx context.Context, input *SubmitBatchInput) (*SubmitBatchOutput, error) {
		req := toBatchRequest(&input.Body)

		result, err := svc.Accept(ctx, req, input.RawBody)
		if err != nil {
			var ve *mbatch.ValidationError
			if errors.As(err, &ve) {
				return nil, huma.Error400BadRequest(ve.Message)
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to start batch: %v", err))
		}

		resp := &SubmitBatchOutput{}
		resp.Body = schemas.SubmitBatchResponse{
			BatchID:   result.BatchID,
			Status:    mbatch.BatchProcessing,
			TotalJobs: result.TotalJobs,
			Message:   fmt.Sprintf("Batch submission started. Check status at /jobs/batch/%s", result.BatchID),
			S3Input:   result.S3Input,
		}
		return resp, nil
	})

	// Batch status
	huma.Register(api, huma.Operation{
		OperationID: "get-batch-status",
		Method:      http.MethodGet,
		Path:        "/jobs/batch/{batchId}",
		Summary:     "Get batch status",
		Description: "Aggregate the current state of every job in a batch",
		Tags:        []string{"Batches"},
	}, func(ctx context.Context, input *GetBatchStatusInput) (*GetBatchStatusOutput, error) {
		view, err := svc.BatchStatus(ctx, input.BatchID)
		if err != nil {
			if errors.Is(err, mbatch.ErrBatchNotFound) {
				return nil, huma.Error404NotFound(fmt.Sprintf("Batch %s not found", input.BatchID))
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to get batch status: %v", err))
		}

		resp := &GetBatchStatusOutput{Body: toBatchStatusResponse(view)}
		return resp, nil
	})
}

// toBatchRequest converts the API form into the service request
func toBatchRequest(body *schemas.SubmitBatchRequest) *mbatch.BatchRequest {
	req := &mbatch.BatchRequest{BatchName: body.BatchName}
	for _, job := range body.Jobs {
		req.Jobs = append(req.Jobs, mbatch.JobSpec{
			Source:  job.Source,
			JobName: job.JobName,
			Command: job.Command,
		})
	}
	return req
}

// toBatchStatusResponse converts a mbatch.BatchStatusView to a schemas.BatchStatusResponse
func toBatchStatusResponse(view *mbatch.BatchStatusView) schemas.BatchStatusResponse {
	resp := schemas.BatchStatusResponse{
		BatchID:   view.BatchID,
		BatchName: view.BatchName,
		Status:    view.Status,
		TotalJobs: view.TotalJobs,
		Progress:  view.Progress,
		StatusCounts: schemas.BatchStatusCounts{
			Submitted: view.StatusCounts.Submitted,
			Pending:   view.StatusCounts.Pending,
			Runnable:  view.StatusCounts.Runnable,
			Starting:  view.StatusCounts.Starting,
			Running:   view.StatusCounts.Running,
			Succeeded: view.StatusCounts.Succeeded,
			Failed:    view.StatusCounts.Failed,
		},
		SubmittedAt: view.SubmittedAt,
		S3Input:     view.S3Input,
		S3Output:    view.S3Output,
		FailedJobs:  make([]schemas.BatchFailedJob, 0, len(view.FailedJobs)),
		TotalFailed: view.TotalFailed,
	}

	for _, job := range view.FailedJobs {
		resp.FailedJobs = append(resp.FailedJobs, schemas.BatchFailedJob{
			JobName:    job.JobName,
			BatchJobID: job.BatchJobID,
			Error:      job.Error,
		})
	}

	return resp
}
