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

// SaveMCPConfigInput defines the input for storing the MCP configuration
type SaveMCPConfigInput struct {
	Body schemas.SaveMCPConfigRequest
}

// SaveMCPConfigOutput is the response for storing the MCP configuration
type SaveMCPConfigOutput struct {
	Body schemas.SaveMCPConfigResponse
}

// RegisterMCP registers the MCP configuration route
func RegisterMCP(api huma.API, svc *mbatch.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "save-mcp-config",
		Method:      http.MethodPost,
		Path:        "/mcp-config",
		Summary:     "Save MCP configuration",
		Description: "Store the MCP server configuration loaded by transform containers",
		Tags:        []string{"MCP"},
	}, func(ctx context.Context, input *SaveMCPConfigInput) (*SaveMCPConfigOutput, error) {
		result, err := svc.SaveMCPConfig(ctx, input.Body.MCPConfig)
		if err != nil {
			var ve *mbatch.ValidationError
			if errors.As(err, &ve) {
				return nil, huma.Error400BadRequest(ve.Message)
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to save MCP config: %v", err))
		}

		resp := &SaveMCPConfigOutput{}
		resp.Body = schemas.SaveMCPConfigResponse{
			Message:   "MCP configuration saved successfully",
			S3Path:    result.S3Path,
			Timestamp: result.Timestamp,
			Size:      result.Size,
		}
		return resp, nil
	})
}
