package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/giantswarm/agent-testing/internal/judge"
	"github.com/giantswarm/agent-testing/internal/llm"
	"github.com/giantswarm/agent-testing/internal/llmserving"
	"github.com/giantswarm/agent-testing/internal/server"
	"github.com/giantswarm/agent-testing/internal/store"
	"github.com/giantswarm/agent-testing/internal/testsuite"
	"github.com/giantswarm/agent-testing/internal/testutil"
)

const refundReply = `{"response":{"text":"We offer refunds within 30 days of purchase."}}`

func callRequest(args map[string]any) mcp.CallToolRequest {
	request := mcp.CallToolRequest{}
	request.Params.Arguments = args
	return request
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	return result.Content[0].(mcp.TextContent).Text
}

func engineContext() *server.ServerContext {
	return &server.ServerContext{
		Tester: &testutil.MockLLMClient{
			DefaultResponse: "TEST_MESSAGE: What is your refund policy?\nANALYSIS: checks the refund window",
		},
		Judge: &testutil.MockLLMClient{
			Handler: func(req llm.ChatRequest) (string, error) {
				if req.SystemMessage() == judge.MetricsPrompt {
					return `{"isCorrect": true, "explanation": "polite", "metrics": [{"id": "politeness", "score": 1, "reason": "friendly"}]}`, nil
				}
				return `{"isCorrect": true, "explanation": "mentions the 30-day window"}`, nil
			},
		},
		Store:        store.NewMemory(),
		AgentTimeout: 5 * time.Second,
	}
}

func TestHandleListTestSuites(t *testing.T) {
	result, err := handleListTestSuites(context.Background(), mcp.CallToolRequest{}, &server.ServerContext{})
	require.NoError(t, err)

	var suites []suiteInfo
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &suites))

	var refund *suiteInfo
	for i := range suites {
		if suites[i].Suite == "refund-policy" {
			refund = &suites[i]
		}
	}
	require.NotNil(t, refund)
	assert.Equal(t, "Refund Policy", refund.Name)
	assert.Equal(t, 4, refund.ScenarioCount)
	assert.Equal(t, 3, refund.EnabledCount)
	assert.Equal(t, []string{"concise", "frustrated"}, refund.Personas)
	assert.Equal(t, []string{"politeness", "policy-accuracy"}, refund.Metrics)
}

func TestHandleRunAgentTestsMissingRequired(t *testing.T) {
	result, err := handleRunAgentTests(context.Background(), callRequest(map[string]any{}), engineContext())
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "test_suite is required")
}

func TestHandleRunAgentTestsInvalidSuite(t *testing.T) {
	result, err := handleRunAgentTests(context.Background(), callRequest(map[string]any{
		"test_suite": "nonexistent-suite",
	}), engineContext())
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "failed to load test suite")
}

func TestHandleRunAgentTestsInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "unknown agent key",
			args: map[string]any{"test_suite": "refund-policy", "agent": map[string]any{"endpont": "http://agent.local"}},
			want: "invalid agent override",
		},
		{
			name: "personas not a list",
			args: map[string]any{"test_suite": "refund-policy", "personas": "concise"},
			want: "personas must be an array of strings",
		},
		{
			name: "tester model without discovery",
			args: map[string]any{"test_suite": "refund-policy", "tester_model": "mistral"},
			want: "model discovery is not configured",
		},
		{
			name: "hosted tester endpoint without key",
			args: map[string]any{"test_suite": "refund-policy", "tester_endpoint": "https://api.openai.com/v1"},
			want: "invalid tester endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handleRunAgentTests(context.Background(), callRequest(tt.args), engineContext())
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestHandleRunAgentTestsMissingEndpoint(t *testing.T) {
	t.Setenv("AGENT_ENDPOINT", "")

	result, err := handleRunAgentTests(context.Background(), callRequest(map[string]any{
		"test_suite": "refund-policy",
	}), engineContext())
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "agent.endpoint")
}

func TestHandleRunAgentTests(t *testing.T) {
	agent := testutil.NewAgentServer(t, testutil.StaticReply(refundReply))
	sc := engineContext()

	result, err := handleRunAgentTests(context.Background(), callRequest(map[string]any{
		"test_suite": "refund-policy",
		"personas":   []any{"concise"},
		"metrics":    []any{"politeness"},
		"agent":      map[string]any{"endpoint": agent.URL, "headers": map[string]any{"X-Test": "1"}},
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var summary runSummary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &summary))
	assert.Equal(t, "Refund Policy", summary.Suite)
	assert.Equal(t, testsuite.RunCompleted, summary.Status)
	assert.Equal(t, testsuite.RunMetrics{Total: 3, Passed: 3, Correct: 3}, summary.Metrics)
	require.Len(t, summary.Chats, 3)
	for _, c := range summary.Chats {
		assert.Equal(t, "concise", c.PersonaID)
		assert.Equal(t, testsuite.ChatPassed, c.Status)
		assert.True(t, c.IsCorrect)
		assert.Equal(t, 1, c.Turns)
	}
	assert.Len(t, agent.Bodies(), 3)

	stored, err := sc.Store.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, summary.Metrics, stored.Metrics)
}

func TestMergeAgent(t *testing.T) {
	base := testsuite.AgentConfig{
		Endpoint:    "http://base",
		Headers:     map[string]string{"Authorization": "Bearer a", "X-Base": "1"},
		InputFormat: `{"q":"{{message}}"}`,
		Rules:       []testsuite.Rule{{Path: "a", Condition: testsuite.ConditionExists}},
	}
	override, err := decodeAgentOverride(map[string]any{
		"headers":       map[string]any{"Authorization": "Bearer b"},
		"output_format": `{"text":""}`,
		"rules":         []any{map[string]any{"path": "text", "condition": "contains", "value": "refund"}},
	})
	require.NoError(t, err)

	got := mergeAgent(base, override)
	assert.Equal(t, "http://base", got.Endpoint)
	assert.Equal(t, map[string]string{"Authorization": "Bearer b", "X-Base": "1"}, got.Headers)
	assert.Equal(t, `{"q":"{{message}}"}`, got.InputFormat)
	assert.Equal(t, `{"text":""}`, got.OutputFormat)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, testsuite.ConditionContains, got.Rules[0].Condition)
	assert.Equal(t, "Bearer a", base.Headers["Authorization"], "base headers must not be mutated")
}

func TestHandleGetResults(t *testing.T) {
	ctx := context.Background()
	sc := &server.ServerContext{Store: store.NewMemory()}

	result, err := handleGetResults(ctx, callRequest(map[string]any{}), sc)
	require.NoError(t, err)
	assert.Equal(t, "[]", resultText(t, result))

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sc.Store.CreateRun(ctx, &testsuite.TestRun{
		ID:          "refund_20260301-120000_abcd1234",
		Suite:       "Refund Policy",
		Status:      testsuite.RunCompleted,
		Metrics:     testsuite.RunMetrics{Total: 1, Passed: 1, Correct: 1},
		Chats:       []testsuite.Conversation{{ID: "c1", ScenarioID: "refund-window", Status: testsuite.ChatPassed}},
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
	}))

	result, err = handleGetResults(ctx, callRequest(map[string]any{}), sc)
	require.NoError(t, err)
	var summaries []runSummary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "2s", summaries[0].Duration)
	assert.Empty(t, summaries[0].Chats)

	result, err = handleGetResults(ctx, callRequest(map[string]any{"run_id": "refund_20260301-120000_abcd1234"}), sc)
	require.NoError(t, err)
	var run testsuite.TestRun
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &run))
	require.Len(t, run.Chats, 1)
	assert.Equal(t, "refund-window", run.Chats[0].ScenarioID)

	result, err = handleGetResults(ctx, callRequest(map[string]any{"run_id": "missing"}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), `run "missing" not found`)
}

func TestHandleGetResultsNoStore(t *testing.T) {
	result, err := handleGetResults(context.Background(), callRequest(map[string]any{}), &server.ServerContext{})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "no result store is configured")
}

func TestHandleListModelsNoDiscovery(t *testing.T) {
	result, err := handleListModels(context.Background(), callRequest(map[string]any{}), &server.ServerContext{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "model discovery is not configured")
}

func TestHandleListModels(t *testing.T) {
	gvr := schema.GroupVersionResource{Group: "serving.kserve.io", Version: "v1beta1", Resource: "inferenceservices"}
	served := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "serving.kserve.io/v1beta1",
		"kind":       "InferenceService",
		"metadata": map[string]any{
			"name":      "judge",
			"namespace": "llm",
			"labels":    map[string]any{"app.kubernetes.io/part-of": "agent-testing"},
		},
		"status": map[string]any{
			"url":        "http://judge.llm.example.com",
			"conditions": []any{map[string]any{"type": "Ready", "status": "True"}},
		},
	}}
	client := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{gvr: "InferenceServiceList"}, served)

	sc := &server.ServerContext{Models: llmserving.NewWithClient(client, "llm")}
	result, err := handleListModels(context.Background(), callRequest(map[string]any{}), sc)
	require.NoError(t, err)

	var models []llmserving.Model
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &models))
	require.Len(t, models, 1)
	assert.True(t, models[0].Ready)
	assert.Equal(t, "http://judge.llm.example.com/v1", models[0].EndpointURL)
}
