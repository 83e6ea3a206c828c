package schemas

// SaveMCPConfigRequest carries the MCP server configuration that
// transform containers load at startup
type SaveMCPConfigRequest struct {
	MCPConfig map[string]any `json:"mcpConfig,omitempty" doc:"MCP server configuration object"`
}

// SaveMCPConfigResponse acknowledges a stored configuration
type SaveMCPConfigResponse struct {
	Message   string `json:"message" doc:"Outcome of the save"`
	S3Path    string `json:"s3Path" doc:"Where the configuration landed"`
	Timestamp string `json:"timestamp" doc:"When the configuration was stored"`
	Size      int    `json:"size" doc:"Stored size in bytes"`
}
