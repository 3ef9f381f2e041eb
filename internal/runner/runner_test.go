package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/agent-testing/internal/conversation"
	"github.com/giantswarm/agent-testing/internal/invoker"
	"github.com/giantswarm/agent-testing/internal/judge"
	"github.com/giantswarm/agent-testing/internal/llm"
	"github.com/giantswarm/agent-testing/internal/metrics"
	"github.com/giantswarm/agent-testing/internal/store"
	"github.com/giantswarm/agent-testing/internal/testsuite"
	mocks "github.com/giantswarm/agent-testing/internal/testutil"
)

// stubDriver answers each request with fn and records what it was asked.
type stubDriver struct {
	mu   sync.Mutex
	reqs []conversation.Request
	fn   func(req conversation.Request) (*conversation.Result, error)
}

func (d *stubDriver) Execute(_ context.Context, req conversation.Request) (*conversation.Result, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	d.mu.Unlock()
	return d.fn(req)
}

func (d *stubDriver) requests() []conversation.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]conversation.Request(nil), d.reqs...)
}

func passingResult(req conversation.Request) *conversation.Result {
	return &conversation.Result{
		Messages: []testsuite.ConversationMessage{
			{ID: req.ChatID + "-u", ChatID: req.ChatID, Role: testsuite.RoleUser, Content: "hi"},
			{ID: req.ChatID + "-a", ChatID: req.ChatID, Role: testsuite.RoleAssistant, Content: "hello"},
		},
		FinalResponse: "hello",
		FormatValid:   true,
		ConditionMet:  true,
		Verdict:       testsuite.Verdict{IsCorrect: true, Explanation: "ok", Metrics: []testsuite.MetricScore{}},
		Passed:        true,
	}
}

func testSuite(endpoint string, scenarios ...string) *testsuite.TestSuite {
	s := &testsuite.TestSuite{
		Name:  "refund policy",
		Agent: testsuite.AgentConfig{Endpoint: endpoint},
		Personas: []testsuite.Persona{
			{ID: "concise", Name: "Concise", SystemPrompt: "Write short messages."},
			{ID: "angry", Name: "Angry", SystemPrompt: "You are upset."},
		},
		Metrics: []testsuite.Metric{
			{ID: "politeness", Name: "Politeness", Type: testsuite.MetricBinary, Criteria: "Agent stays polite"},
		},
	}
	for _, id := range scenarios {
		s.Scenarios = append(s.Scenarios, testsuite.Scenario{
			ID:             id,
			Text:           "scenario " + id,
			ExpectedOutput: "expected " + id,
			Enabled:        true,
		})
	}
	return s
}

func assertCounterLaws(t *testing.T, run *testsuite.TestRun) {
	t.Helper()
	assert.Equal(t, run.Metrics.Total, run.Metrics.Passed+run.Metrics.Failed)
	assert.Equal(t, run.Metrics.Total, run.Metrics.Correct+run.Metrics.Incorrect)
	assert.Len(t, run.Chats, run.Metrics.Total)
}

func TestRunConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"no suite", Request{}, "suite"},
		{"missing endpoint", Request{Suite: testSuite("", "s1")}, "agent.endpoint"},
		{"not a URL", Request{Suite: testSuite("agent.local/chat", "s1")}, "agent.endpoint"},
		{"unknown metric", Request{Suite: testSuite("http://agent.local/chat", "s1"), MetricIDs: []string{"nope"}}, "metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
				return passingResult(req), nil
			}}
			st := store.NewMemory()

			run, err := NewRunner(driver, st).Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, run)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)

			assert.Empty(t, driver.requests())
			runs, err := st.ListRuns(context.Background())
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestRunMissingEndpointWrapsInvokerError(t *testing.T) {
	_, err := NewRunner(&stubDriver{}, store.NewMemory()).Run(context.Background(), Request{Suite: testSuite("", "s1")})
	assert.ErrorIs(t, err, invoker.ErrMissingEndpoint)
}

func TestRunPairOrderAndCounters(t *testing.T) {
	driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
		return passingResult(req), nil
	}}
	st := store.NewMemory()

	run, err := NewRunner(driver, st).Run(context.Background(), Request{Suite: testSuite("http://agent.local/chat", "s1", "s2")})
	require.NoError(t, err)

	assert.Equal(t, testsuite.RunCompleted, run.Status)
	assert.True(t, strings.HasPrefix(run.ID, "refund_policy_"))
	assert.False(t, run.CompletedAt.Before(run.StartedAt))
	assert.Equal(t, testsuite.RunMetrics{Total: 4, Passed: 4, Correct: 4}, run.Metrics)
	assertCounterLaws(t, run)

	var got []string
	for _, c := range run.Chats {
		got = append(got, c.ScenarioID+"/"+c.PersonaID)
		assert.Equal(t, run.ID, c.RunID)
		assert.Equal(t, testsuite.ChatPassed, c.Status)
		require.NotNil(t, c.Verdict)
		assert.True(t, c.Verdict.IsCorrect)
		assert.Len(t, c.Messages, 2)
	}
	assert.Equal(t, []string{"s1/concise", "s1/angry", "s2/concise", "s2/angry"}, got)

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, testsuite.RunCompleted, stored.Status)
	assert.Equal(t, run.Metrics, stored.Metrics)

	chat, err := st.GetConversation(context.Background(), run.Chats[0].ID)
	require.NoError(t, err)
	assert.Equal(t, testsuite.ChatPassed, chat.Status)
}

func TestRunPassesPersonaAndMetrics(t *testing.T) {
	driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
		return passingResult(req), nil
	}}
	suite := testSuite("http://agent.local/chat", "s1")

	_, err := NewRunner(driver, store.NewMemory()).Run(context.Background(), Request{
		Suite:      suite,
		PersonaIDs: []string{"angry"},
	})
	require.NoError(t, err)

	reqs := driver.requests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Persona)
	assert.Equal(t, "You are upset.", reqs[0].Persona.SystemPrompt)
	assert.Equal(t, "s1", reqs[0].Scenario.ID)
	assert.Equal(t, suite.Agent, reqs[0].Agent)
	assert.Equal(t, suite.Metrics, reqs[0].Metrics)
	assert.NotEmpty(t, reqs[0].ChatID)
}

func TestRunUnknownPersonaRunsWithoutPersona(t *testing.T) {
	driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
		return passingResult(req), nil
	}}

	run, err := NewRunner(driver, store.NewMemory()).Run(context.Background(), Request{
		Suite:      testSuite("http://agent.local/chat", "s1"),
		PersonaIDs: []string{"ghost"},
	})
	require.NoError(t, err)

	reqs := driver.requests()
	require.Len(t, reqs, 1)
	assert.Nil(t, reqs[0].Persona)
	assert.Equal(t, "ghost", run.Chats[0].PersonaID)
}

func TestRunWithoutPersonas(t *testing.T) {
	driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
		return passingResult(req), nil
	}}
	suite := testSuite("http://agent.local/chat", "s1", "s2")
	suite.Personas = nil

	run, err := NewRunner(driver, store.NewMemory()).Run(context.Background(), Request{Suite: suite})
	require.NoError(t, err)
	assert.Equal(t, 2, run.Metrics.Total)
	for _, req := range driver.requests() {
		assert.Nil(t, req.Persona)
	}
}

func TestRunSkipsDisabledScenarios(t *testing.T) {
	driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
		return passingResult(req), nil
	}}
	suite := testSuite("http://agent.local/chat", "s1", "s2")
	suite.Scenarios[1].Enabled = false

	run, err := NewRunner(driver, store.NewMemory()).Run(context.Background(), Request{Suite: suite, PersonaIDs: []string{"concise"}})
	require.NoError(t, err)
	require.Len(t, run.Chats, 1)
	assert.Equal(t, "s1", run.Chats[0].ScenarioID)
}

type mapPersonas map[string]testsuite.Persona

func (m mapPersonas) GetPersonaByID(_ context.Context, id string) (*testsuite.Persona, error) {
	p, ok := m[id]
	if !ok {
		return nil, testsuite.ErrPersonaNotFound
	}
	return &p, nil
}

func TestRunWithPersonaSource(t *testing.T) {
	driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
		return passingResult(req), nil
	}}
	src := mapPersonas{"pirate": {ID: "pirate", SystemPrompt: "Talk like a pirate."}}

	_, err := NewRunner(driver, store.NewMemory(), WithPersonaSource(src)).Run(context.Background(), Request{
		Suite:      testSuite("http://agent.local/chat", "s1"),
		PersonaIDs: []string{"pirate"},
	})
	require.NoError(t, err)
	require.NotNil(t, driver.requests()[0].Persona)
	assert.Equal(t, "Talk like a pirate.", driver.requests()[0].Persona.SystemPrompt)
}

func TestRunIsolatesPairFailures(t *testing.T) {
	driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
		switch req.Scenario.ID {
		case "broken":
			return nil, errors.New("failed to run test: agent unreachable")
		case "wrong":
			res := passingResult(req)
			res.Verdict.IsCorrect = false
			res.Passed = false
			return res, nil
		}
		return passingResult(req), nil
	}}
	m := metrics.New(nil)

	run, err := NewRunner(driver, store.NewMemory(), WithMetrics(m)).Run(context.Background(), Request{
		Suite: testSuite("http://agent.local/chat", "ok", "broken", "wrong"),
	})
	require.NoError(t, err)

	assert.Equal(t, testsuite.RunCompleted, run.Status)
	assert.Equal(t, testsuite.RunMetrics{Total: 6, Passed: 2, Failed: 4, Correct: 2, Incorrect: 4}, run.Metrics)
	assertCounterLaws(t, run)

	for _, c := range run.Chats {
		if c.ScenarioID != "broken" {
			continue
		}
		assert.Equal(t, testsuite.ChatFailed, c.Status)
		assert.Contains(t, c.Error, "agent unreachable")
		assert.Empty(t, c.Messages)
		assert.Nil(t, c.Verdict)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConversationsTotal.WithLabelValues("passed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ConversationsTotal.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("incorrect")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsInProgress))
}

func TestRunConcurrencyKeepsPairOrder(t *testing.T) {
	driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
		// Earlier scenarios finish later.
		if req.Scenario.ID == "s1" {
			time.Sleep(30 * time.Millisecond)
		}
		return passingResult(req), nil
	}}

	run, err := NewRunner(driver, store.NewMemory(), WithConcurrency(4)).Run(context.Background(), Request{
		Suite: testSuite("http://agent.local/chat", "s1", "s2", "s3"),
	})
	require.NoError(t, err)

	require.Len(t, run.Chats, 6)
	for i, want := range []string{"s1", "s1", "s2", "s2", "s3", "s3"} {
		assert.Equal(t, want, run.Chats[i].ScenarioID)
	}
	assertCounterLaws(t, run)
}

func TestRunCancelledMarksRemainingPairsFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
		cancel()
		return passingResult(req), nil
	}}

	run, err := NewRunner(driver, store.NewMemory()).Run(ctx, Request{
		Suite: testSuite("http://agent.local/chat", "s1", "s2"),
	})
	require.NoError(t, err)

	assert.Equal(t, testsuite.RunCompleted, run.Status)
	assert.Len(t, driver.requests(), 1)
	assert.Equal(t, testsuite.RunMetrics{Total: 4, Passed: 1, Failed: 3, Correct: 1, Incorrect: 3}, run.Metrics)
	for _, c := range run.Chats[1:] {
		assert.Equal(t, testsuite.ChatFailed, c.Status)
		assert.Contains(t, c.Error, context.Canceled.Error())
	}
}

func TestRunProgress(t *testing.T) {
	driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
		return passingResult(req), nil
	}}

	var calls []string
	r := NewRunner(driver, store.NewMemory())
	r.SetProgressFunc(func(scenarioID, personaID string, index, total int) {
		calls = append(calls, fmt.Sprintf("%s/%s %d/%d", scenarioID, personaID, index, total))
	})

	_, err := r.Run(context.Background(), Request{Suite: testSuite("http://agent.local/chat", "s1"), PersonaIDs: []string{"concise", "angry"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1/concise 1/2", "s1/angry 2/2"}, calls)
}

// failingStore fails every run update but keeps everything else in memory.
type failingStore struct {
	*store.Memory
}

func (s failingStore) UpdateRun(context.Context, *testsuite.TestRun) error {
	return errors.New("disk full")
}

func TestRunPersistFailure(t *testing.T) {
	driver := &stubDriver{fn: func(req conversation.Request) (*conversation.Result, error) {
		return passingResult(req), nil
	}}

	run, err := NewRunner(driver, failingStore{store.NewMemory()}).Run(context.Background(), Request{
		Suite:      testSuite("http://agent.local/chat", "s1"),
		PersonaIDs: []string{"concise"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NotNil(t, run)
	assert.Equal(t, testsuite.RunCompleted, run.Status)
}

const refundReply = `{"response":{"text":"We offer refunds within 30 days of purchase."}}`

// newEngine wires the real driver, invoker and judge around scripted LLMs.
func newEngine(t *testing.T, inv *invoker.Invoker, st store.Store) *Runner {
	t.Helper()
	tester := &mocks.MockLLMClient{
		Handler: func(req llm.ChatRequest) (string, error) {
			return "TEST_MESSAGE: What is your refund policy?\nANALYSIS: checks the refund window", nil
		},
	}
	judgeLLM := &mocks.MockLLMClient{
		Handler: func(req llm.ChatRequest) (string, error) {
			if req.SystemMessage() == judge.MetricsPrompt {
				return `{"isCorrect": true, "explanation": "polite", "metrics": [{"id": "politeness", "score": 1, "reason": "friendly"}]}`, nil
			}
			return `{"isCorrect": true, "explanation": "mentions the 30-day window"}`, nil
		},
	}
	driver := conversation.NewDriver(tester, inv, judge.New(judgeLLM, judge.Config{}), conversation.WithRecorder(st))
	return NewRunner(driver, st)
}

func TestRunRefundExample(t *testing.T) {
	agent := mocks.NewAgentServer(t, mocks.StaticReply(refundReply))
	st := store.NewMemory()

	suite := testSuite(agent.URL, "refund")
	suite.Agent.InputFormat = `{"input":{"text":"{{message}}"}}`
	suite.Agent.OutputFormat = `{"response":{"text":""}}`
	suite.Agent.Rules = []testsuite.Rule{{ID: "window", Path: "response.text", Condition: testsuite.ConditionContains, Value: "30 days"}}

	run, err := newEngine(t, invoker.New(), st).Run(context.Background(), Request{Suite: suite, PersonaIDs: []string{"concise"}})
	require.NoError(t, err)

	assert.Equal(t, testsuite.RunMetrics{Total: 1, Passed: 1, Correct: 1}, run.Metrics)
	chat := run.Chats[0]
	assert.Equal(t, testsuite.ChatPassed, chat.Status)
	assert.True(t, chat.FormatValid)
	assert.True(t, chat.ConditionMet)
	assert.Equal(t, "We offer refunds within 30 days of purchase.", chat.FinalResponse)
	require.NotNil(t, chat.Verdict)
	assert.Equal(t, "Expected output: mentions the 30-day window\n\nMetrics: polite", chat.Verdict.Explanation)
	assert.Equal(t, []testsuite.MetricScore{{ID: "politeness", Score: 1, Reason: "friendly"}}, chat.Verdict.Metrics)

	require.Len(t, agent.Bodies(), 1)
	assert.JSONEq(t, `{"input":{"text":"What is your refund policy?"}}`, string(agent.Bodies()[0]))

	msgs, err := st.Messages(context.Background(), chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, testsuite.RoleUser, msgs[0].Role)
	assert.Equal(t, testsuite.RoleAssistant, msgs[1].Role)
}

func TestRunAgentTimeout(t *testing.T) {
	agent := mocks.NewAgentServer(t, func([]byte) (int, string) {
		time.Sleep(300 * time.Millisecond)
		return http.StatusOK, refundReply
	})
	st := store.NewMemory()

	run, err := newEngine(t, invoker.New(invoker.WithTimeout(50*time.Millisecond)), st).Run(context.Background(), Request{
		Suite:      testSuite(agent.URL, "refund"),
		PersonaIDs: []string{"concise"},
	})
	require.NoError(t, err)

	assert.Equal(t, testsuite.RunMetrics{Total: 1, Failed: 1, Incorrect: 1}, run.Metrics)
	chat := run.Chats[0]
	assert.Equal(t, testsuite.ChatFailed, chat.Status)
	assert.Contains(t, chat.Error, "timed out")
	assert.Empty(t, chat.Messages)

	stored, err := st.GetConversation(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, testsuite.ChatFailed, stored.Status)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", "simple"},
		{"with spaces", "with_spaces"},
		{"path/to/file", "path_to_file"},
		{"a:b*c?d", "a_b_c_d"},
		{`quote"s<and>pipes|`, "quote_s_and_pipes_"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeFilename(tt.input))
		})
	}
}
