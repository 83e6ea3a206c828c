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

// UploadInput defines the input for requesting an upload slot
type UploadInput struct {
	Body schemas.UploadRequest
}

// UploadOutput is the response for requesting an upload slot
type UploadOutput struct {
	Body schemas.UploadResponse
}

// RegisterUploads registers the source archive upload route
func RegisterUploads(api huma.API, svc *mbatch.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "request-upload",
		Method:      http.MethodPost,
		Path:        "/upload",
		Summary:     "Request an upload URL",
		Description: "Get a presigned URL for uploading a source ZIP archive",
		Tags:        []string{"Uploads"},
	}, func(ctx context.Context, input *UploadInput) (*UploadOutput, error) {
		expiresIn := mbatch.DefaultUploadExpiry
		if input.Body.ExpiresIn != nil {
			expiresIn = *input.Body.ExpiresIn
		}

		grant, err := svc.PresignUpload(ctx, input.Body.Filename, expiresIn)
		if err != nil {
			var ve *mbatch.ValidationError
			if errors.As(err, &ve) {
				return nil, huma.Error400BadRequest(ve.Message)
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to create upload URL: %v", err))
		}

		resp := &UploadOutput{}
		resp.Body = schemas.UploadResponse{
			UploadURL: grant.UploadURL,
			S3Path:    grant.S3Path,
			UploadID:  grant.UploadID,
			Filename:  grant.Filename,
			ExpiresIn: grant.ExpiresIn,
			ExpiresAt: grant.ExpiresAt,
			Instructions: schemas.UploadInstructions{
				Step1: "Upload your ZIP file to the uploadUrl using HTTP PUT",
				Step2: fmt.Sprintf("Use %s as the source field when submitting a job via POST /jobs", grant.S3Path),
				Step3: "The container will automatically extract the ZIP file",
			},
		}
		return resp, nil
	})
}
