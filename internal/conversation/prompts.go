package conversation

import (
	"fmt"
	"strings"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// DefaultTesterPrompt instructs the tester LLM how to plan a conversation.
const DefaultTesterPrompt = `You are a QA tester playing the user of an AI agent. You will be given a test scenario and the behaviour the agent is expected to show.

Write the first message the user would send. If the scenario needs more than one exchange to exercise the expected behaviour, plan the follow-up turns; otherwise leave the plan out.

Answer in exactly this format:

TEST_MESSAGE: <the first user message, nothing else>
CONVERSATION_PLAN:
1. <what the user does in the second turn>
2. <what the user does in the third turn>
ANALYSIS: <one sentence on what this conversation checks>`

func systemPrompt(base, suiteContext string, persona *testsuite.Persona) string {
	prompt := base
	if ctx := strings.TrimSpace(suiteContext); ctx != "" {
		prompt += "\n\n" + ctx
	}
	if persona == nil || strings.TrimSpace(persona.SystemPrompt) == "" {
		return prompt
	}
	return fmt.Sprintf("%s\n\nPlay the user with this persona (%s):\n%s", prompt, persona.Name, persona.SystemPrompt)
}

func planningMessage(s testsuite.Scenario) string {
	return fmt.Sprintf("SCENARIO:\n%s\n\nEXPECTED OUTPUT:\n%s", s.Text, s.ExpectedOutput)
}

func followUpMessage(history, lastReply, step string, turn, total int) string {
	var b strings.Builder
	b.WriteString("CONVERSATION SO FAR:\n")
	b.WriteString(history)
	b.WriteString("\n\nAGENT'S LAST REPLY:\n")
	b.WriteString(lastReply)
	fmt.Fprintf(&b, "\n\nNEXT STEP (%d of %d):\n%s", turn, total, step)
	b.WriteString("\n\nWrite the next user message for this step, staying in character. Answer in the format:\nTEST_MESSAGE: <the next user message>")
	return b.String()
}
