package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/agent-testing/internal/server"
	"github.com/giantswarm/agent-testing/internal/store"
)

func handleGetResults(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	if sc.Store == nil {
		return mcp.NewToolResultError("no result store is configured"), nil
	}

	args := request.GetArguments()
	runID, _ := args["run_id"].(string)

	if runID != "" {
		run, err := sc.Store.GetRun(ctx, runID)
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("run %q not found", runID)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read run %q: %v", runID, err)), nil
		}
		return jsonResult(run, "run")
	}

	runs, err := sc.Store.ListRuns(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, summarize(run, false))
	}
	return jsonResult(summaries, "runs")
}
