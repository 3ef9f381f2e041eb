package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/agent-testing/internal/server"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

func registerTestSuiteTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// list_test_suites
	listTool := mcp.NewTool("list_test_suites",
		mcp.WithDescription("List available agent test suites with their scenarios, personas and metrics"),
	)
	s.AddTool(listTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleListTestSuites(ctx, request, sc)
	})

	// run_agent_tests
	runTool := mcp.NewTool("run_agent_tests",
		mcp.WithDescription("Run every enabled scenario of a test suite against the agent endpoint, once per persona, and judge each conversation"),
		mcp.WithString("test_suite",
			mcp.Required(),
			mcp.Description("Name of the test suite to run (e.g. 'refund-policy')"),
		),
		mcp.WithArray("personas",
			mcp.Description("Persona ids to run (default: all personas of the suite)"),
			mcp.WithStringItems(),
		),
		mcp.WithArray("metrics",
			mcp.Description("Custom metric ids to judge (default: all metrics of the suite)"),
			mcp.WithStringItems(),
		),
		mcp.WithObject("agent",
			mcp.Description("Overrides for the suite's agent config: endpoint, headers, input_format, output_format, rules"),
		),
		mcp.WithString("tester_model",
			mcp.Description("Served model to use as tester; its endpoint is discovered from KServe"),
		),
		mcp.WithString("tester_endpoint",
			mcp.Description("OpenAI-compatible tester endpoint URL (overrides auto-discovery)"),
		),
	)
	s.AddTool(runTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleRunAgentTests(ctx, request, sc)
	})

	// get_results
	getResultsTool := mcp.NewTool("get_results",
		mcp.WithDescription("Retrieve past test runs with their conversations and verdicts"),
		mcp.WithString("run_id",
			mcp.Description("Specific run ID to retrieve (optional, lists all if omitted)"),
		),
	)
	s.AddTool(getResultsTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGetResults(ctx, request, sc)
	})

	return nil
}

type suiteInfo struct {
	Name          string   `json:"name"`
	Suite         string   `json:"suite"`
	Description   string   `json:"description"`
	Version       string   `json:"version"`
	ScenarioCount int      `json:"scenario_count"`
	EnabledCount  int      `json:"enabled_count"`
	Personas      []string `json:"personas"`
	Metrics       []string `json:"metrics"`
}

func handleListTestSuites(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	names, err := testsuite.List(sc.SuitesDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list test suites: %v", err)), nil
	}

	suites := make([]suiteInfo, 0, len(names))
	for _, name := range names {
		suite, err := testsuite.Load(name, sc.SuitesDir)
		if err != nil {
			slog.Warn("skipping test suite", "suite", name, "error", err)
			continue
		}
		metricIDs := make([]string, 0, len(suite.Metrics))
		for _, m := range suite.Metrics {
			metricIDs = append(metricIDs, m.ID)
		}
		suites = append(suites, suiteInfo{
			Name:          suite.Name,
			Suite:         name,
			Description:   suite.Description,
			Version:       suite.Version,
			ScenarioCount: len(suite.Scenarios),
			EnabledCount:  len(suite.EnabledScenarios()),
			Personas:      suite.PersonaIDs(),
			Metrics:       metricIDs,
		})
	}

	return jsonResult(suites, "test suites")
}
