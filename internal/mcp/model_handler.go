package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/agent-testing/internal/server"
)

func registerModelTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// list_models
	listTool := mcp.NewTool("list_models",
		mcp.WithDescription("List tester and judge models served via KServe InferenceServices labelled for agent testing"),
	)
	s.AddTool(listTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListModels(ctx, request, sc)
	})

	return nil
}

func handleListModels(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	if sc.Models == nil {
		return mcp.NewToolResultError("model discovery is not configured (no cluster access)"), nil
	}

	models, err := sc.Models.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list models: %v", err)), nil
	}
	return jsonResult(models, "models")
}
