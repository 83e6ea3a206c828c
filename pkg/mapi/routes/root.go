package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/moltlabs/molt/pkg/mbatch"
)

// Register wires every API route to the transformation service.
func Register(api huma.API, svc *mbatch.Service) {
	RegisterIndex(api)
	RegisterHealth(api)
	RegisterBatches(api, svc)
	RegisterJobs(api, svc)
	RegisterUploads(api, svc)
	RegisterMCP(api, svc)
}

type RootOutput struct {
	Body struct {
		Message string `json:"message" example:"molt transformation API" doc:"Welcome message"`
	}
}

func RegisterIndex(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-root",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Root endpoint",
		Description: "Returns a welcome message",
		Tags:        []string{"General"},
	}, func(ctx context.Context, input *struct{}) (*RootOutput, error) {
		resp := &RootOutput{}
		resp.Body.Message = "molt transformation API"
		return resp, nil
	})
}
