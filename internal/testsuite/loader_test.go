package testsuite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedSuite(t *testing.T) {
	t.Setenv("AGENT_ENDPOINT", "http://agent.local/chat")
	t.Setenv("AGENT_TOKEN", "secret")

	suite, err := Load("refund-policy", "")
	require.NoError(t, err)

	assert.Equal(t, "Refund Policy", suite.Name)
	assert.Equal(t, "1", suite.Version)
	assert.Equal(t, "http://agent.local/chat", suite.Agent.Endpoint)
	assert.Equal(t, "Bearer secret", suite.Agent.Headers["Authorization"])
	assert.Equal(t, `{"input":{"text":"{{message}}"}}`, suite.Agent.InputFormat)
	assert.Equal(t, `{"response":{"text":""}}`, suite.Agent.OutputFormat)
	require.Len(t, suite.Agent.Rules, 1)
	assert.Equal(t, ConditionExists, suite.Agent.Rules[0].Condition)
	assert.Contains(t, suite.Tester.SystemMessage, "customer support assistant")
}

func TestLoadEmbeddedSuiteScenarios(t *testing.T) {
	suite, err := Load("refund-policy", "")
	require.NoError(t, err)

	require.Len(t, suite.Scenarios, 4)
	first := suite.Scenarios[0]
	assert.Equal(t, "refund-window", first.ID)
	assert.Equal(t, "User asks about the refund policy", first.Text)
	assert.Equal(t, "Agent should explain the 30-day refund policy", first.ExpectedOutput)
	assert.True(t, first.Enabled)

	enabled := suite.EnabledScenarios()
	assert.Len(t, enabled, 3)
	for _, s := range enabled {
		assert.NotEqual(t, "gift-card", s.ID)
	}
}

func TestSuiteDefaults(t *testing.T) {
	suite, err := Load("order-status", "")
	require.NoError(t, err)

	assert.Equal(t, "scenarios.csv", suite.ScenariosFile)
	assert.Empty(t, suite.Metrics)
	assert.Empty(t, suite.Agent.InputFormat)
	require.Len(t, suite.Scenarios, 2)
	for _, s := range suite.Scenarios {
		assert.True(t, s.Enabled, "scenarios without an Enabled column are enabled")
	}
}

func TestMetricTypeDefault(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "custom", `
name: custom
agent:
  endpoint: http://agent.local
metrics:
  - id: tone
    criteria: friendly
`, "ID,Scenario,ExpectedOutput\n1,hi,hello\n")

	suite, err := Load("custom", dir)
	require.NoError(t, err)
	require.Len(t, suite.Metrics, 1)
	assert.Equal(t, MetricBinary, suite.Metrics[0].Type)
}

func TestLoadNonexistentSuite(t *testing.T) {
	_, err := Load("nonexistent-suite", "")
	assert.Error(t, err)
}

func TestLoadExternalSuiteTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "refund-policy", "name: overridden\nagent:\n  endpoint: http://other.local\n", "ID,Scenario,ExpectedOutput\n1,a,b\n")

	suite, err := Load("refund-policy", dir)
	require.NoError(t, err)
	assert.Equal(t, "overridden", suite.Name)
	assert.Len(t, suite.Scenarios, 1)
}

func TestLoadScenarioErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"missing column", "ID,Scenario\n1,a\n"},
		{"short row", "ID,Scenario,ExpectedOutput\n1,a\n"},
		{"bad enabled", "ID,Scenario,ExpectedOutput,Enabled\n1,a,b,maybe\n"},
		{"empty file", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeSuite(t, dir, "broken", "name: broken\n", tt.csv)
			_, err := Load("broken", dir)
			assert.Error(t, err)
		})
	}
}

func TestListSuites(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "external-only", "name: x\n", "ID,Scenario,ExpectedOutput\n")
	writeSuite(t, dir, "refund-policy", "name: dup\n", "ID,Scenario,ExpectedOutput\n")

	names, err := List(dir)
	require.NoError(t, err)
	assert.Contains(t, names, "refund-policy")
	assert.Contains(t, names, "order-status")
	assert.Contains(t, names, "external-only")

	count := 0
	for _, n := range names {
		if n == "refund-policy" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestGetPersonaByID(t *testing.T) {
	suite, err := Load("refund-policy", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"concise", "frustrated"}, suite.PersonaIDs())

	p, err := suite.GetPersonaByID(context.Background(), "frustrated")
	require.NoError(t, err)
	assert.Contains(t, p.SystemPrompt, "broken")

	_, err = suite.GetPersonaByID(context.Background(), "pirate")
	assert.ErrorIs(t, err, ErrPersonaNotFound)
}

func TestMetricsByID(t *testing.T) {
	suite, err := Load("refund-policy", "")
	require.NoError(t, err)

	all, err := suite.MetricsByID(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	picked, err := suite.MetricsByID([]string{"policy-accuracy"})
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, MetricContinuous, picked[0].Type)
	assert.Equal(t, "high", picked[0].Criticality)

	_, err = suite.MetricsByID([]string{"unknown"})
	assert.Error(t, err)
}

func TestRunClone(t *testing.T) {
	run := &TestRun{
		ID: "r1",
		Chats: []Conversation{{
			ID:       "c1",
			Messages: []ConversationMessage{{ID: "m1"}},
			Verdict:  &Verdict{IsCorrect: true, Metrics: []MetricScore{{ID: "tone", Score: 1}}},
		}},
	}

	clone := run.Clone()
	clone.Chats[0].Messages[0].Content = "changed"
	clone.Chats[0].Verdict.Metrics[0].Score = 0
	clone.Chats[0].Verdict.IsCorrect = false

	assert.Empty(t, run.Chats[0].Messages[0].Content)
	assert.Equal(t, 1, run.Chats[0].Verdict.Metrics[0].Score)
	assert.True(t, run.Chats[0].Verdict.IsCorrect)
}

func writeSuite(t *testing.T, dir, name, config, scenarios string) {
	t.Helper()
	suiteDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(suiteDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(suiteDir, "config.yaml"), []byte(config), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(suiteDir, "scenarios.csv"), []byte(scenarios), 0o644))
}
