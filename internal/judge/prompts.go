package judge

import (
	"fmt"
	"strings"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// ExpectedOutputPrompt is the system prompt for the expected-output pass.
const ExpectedOutputPrompt = `You are evaluating a conversation between a user and an AI agent.

You receive the test scenario, a description of the behaviour expected from the agent and the full transcript.

Decide whether the agent's behaviour over the whole conversation satisfies the expected behaviour. The agent does not need to use the same words; it must convey the necessary information and act as described.

Respond with a single JSON object and nothing else:

{"isCorrect": true, "explanation": "one or two sentences"}`

// MetricsPrompt is the system prompt for the metrics pass.
const MetricsPrompt = `You are evaluating a conversation between a user and an AI agent against a set of custom metrics.

You receive the test scenario, the expected behaviour, the full transcript and the metrics. Each metric has an id, a type and criteria. Score every metric 1 if the conversation meets its criteria and 0 otherwise, whatever the declared type. Weigh metrics by their criticality when deciding the overall result: the conversation is correct only if no critical metric scores 0.

Respond with a single JSON object and nothing else:

{"isCorrect": true, "explanation": "one or two sentences", "metrics": [{"id": "metric-id", "score": 1, "reason": "short reason"}]}`

func expectedOutputMessage(transcript, scenario, expectedOutput string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SCENARIO:\n%s\n\n", scenario)
	fmt.Fprintf(&b, "EXPECTED OUTPUT:\n%s\n\n", expectedOutput)
	fmt.Fprintf(&b, "TRANSCRIPT:\n%s\n", transcript)
	return b.String()
}

func metricsMessage(transcript, scenario, expectedOutput string, metrics []testsuite.Metric) string {
	var b strings.Builder
	b.WriteString(expectedOutputMessage(transcript, scenario, expectedOutput))
	b.WriteString("\nMETRICS:\n")
	if len(metrics) == 0 {
		b.WriteString("(none; return an empty metrics array)\n")
	}
	for _, m := range metrics {
		fmt.Fprintf(&b, "- id: %s\n  name: %s\n  type: %s\n  criteria: %s\n", m.ID, m.Name, m.Type, m.Criteria)
		if m.Criticality != "" {
			fmt.Fprintf(&b, "  criticality: %s\n", m.Criticality)
		}
	}
	return b.String()
}
