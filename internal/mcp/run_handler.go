package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/agent-testing/internal/llm"
	"github.com/giantswarm/agent-testing/internal/runner"
	"github.com/giantswarm/agent-testing/internal/server"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

type chatSummary struct {
	ID         string               `json:"id"`
	ScenarioID string               `json:"scenario_id"`
	PersonaID  string               `json:"persona_id"`
	Status     testsuite.ChatStatus `json:"status"`
	IsCorrect  bool                 `json:"is_correct"`
	Turns      int                  `json:"turns"`
	Error      string               `json:"error,omitempty"`
}

type runSummary struct {
	RunID    string               `json:"run_id"`
	Suite    string               `json:"suite"`
	Status   testsuite.RunStatus  `json:"status"`
	Metrics  testsuite.RunMetrics `json:"metrics"`
	Duration string               `json:"duration,omitempty"`
	Chats    []chatSummary        `json:"chats,omitempty"`
}

func summarize(run *testsuite.TestRun, withChats bool) runSummary {
	s := runSummary{
		RunID:   run.ID,
		Suite:   run.Suite,
		Status:  run.Status,
		Metrics: run.Metrics,
	}
	if !run.CompletedAt.IsZero() {
		s.Duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
	}
	if withChats {
		for _, c := range run.Chats {
			s.Chats = append(s.Chats, chatSummary{
				ID:         c.ID,
				ScenarioID: c.ScenarioID,
				PersonaID:  c.PersonaID,
				Status:     c.Status,
				IsCorrect:  c.Verdict != nil && c.Verdict.IsCorrect,
				Turns:      len(c.Messages) / 2,
				Error:      c.Error,
			})
		}
	}
	return s
}

func handleRunAgentTests(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	suiteName, ok := args["test_suite"].(string)
	if !ok || suiteName == "" {
		return mcp.NewToolResultError("test_suite is required"), nil
	}

	suite, err := testsuite.Load(suiteName, sc.SuitesDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load test suite: %v", err)), nil
	}

	personas, err := stringList(args, "personas")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	metricIDs, err := stringList(args, "metrics")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if raw, ok := args["agent"]; ok && raw != nil {
		override, err := decodeAgentOverride(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid agent override: %v", err)), nil
		}
		suite.Agent = mergeAgent(suite.Agent, override)
	}

	tester, err := testerClient(ctx, args, sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if tester == nil {
		return mcp.NewToolResultError("no tester LLM is configured"), nil
	}
	if sc.JudgeClient() == nil {
		return mcp.NewToolResultError("no judge LLM is configured"), nil
	}

	run, err := sc.NewRunner(tester).Run(ctx, runner.Request{
		Suite:      suite,
		PersonaIDs: personas,
		MetricIDs:  metricIDs,
	})
	if err != nil {
		var cfgErr *runner.ConfigError
		if errors.As(err, &cfgErr) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if run == nil {
			return mcp.NewToolResultError(fmt.Sprintf("test run failed: %v", err)), nil
		}
		slog.Warn("test run finished with persistence error", "run_id", run.ID, "error", err)
	}

	return jsonResult(summarize(run, true), "summary")
}

// decodeAgentOverride decodes the agent argument into an AgentConfig,
// rejecting unknown keys.
func decodeAgentOverride(raw any) (testsuite.AgentConfig, error) {
	var out testsuite.AgentConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "mapstructure",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(raw); err != nil {
		return out, err
	}
	return out, nil
}

// mergeAgent applies the non-empty fields of override to base.
func mergeAgent(base, override testsuite.AgentConfig) testsuite.AgentConfig {
	if override.Endpoint != "" {
		base.Endpoint = override.Endpoint
	}
	if len(override.Headers) > 0 {
		headers := make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			headers[k] = v
		}
		for k, v := range override.Headers {
			headers[k] = v
		}
		base.Headers = headers
	}
	if override.InputFormat != "" {
		base.InputFormat = override.InputFormat
	}
	if override.OutputFormat != "" {
		base.OutputFormat = override.OutputFormat
	}
	if override.Rules != nil {
		base.Rules = override.Rules
	}
	return base
}

// testerClient picks the tester LLM: an explicit endpoint, then a discovered
// served model, then the server default.
func testerClient(ctx context.Context, args map[string]any, sc *server.ServerContext) (llm.Client, error) {
	model, _ := args["tester_model"].(string)

	if endpoint, ok := args["tester_endpoint"].(string); ok && endpoint != "" {
		opts := []llm.Option{llm.WithBaseURL(endpoint)}
		if model != "" {
			opts = append(opts, llm.WithModel(model))
		}
		if err := llm.ValidateOptions(opts...); err != nil {
			return nil, fmt.Errorf("invalid tester endpoint: %w", err)
		}
		return llm.NewOpenAIClient(opts...), nil
	}

	if model == "" {
		return sc.Tester, nil
	}
	if sc.Models == nil {
		return nil, fmt.Errorf("tester_model %q given but model discovery is not configured", model)
	}
	endpoint, err := sc.Models.ResolveEndpoint(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tester model: %w", err)
	}
	slog.Info("discovered tester endpoint", "model", model, "endpoint", endpoint)
	return llm.NewOpenAIClient(llm.WithBaseURL(endpoint), llm.WithModel(model)), nil
}
