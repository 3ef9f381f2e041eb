package conversation

import (
	"strings"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// FormatTranscript renders messages as the role-labelled text handed to the judge.
func FormatTranscript(messages []testsuite.ConversationMessage) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch m.Role {
		case testsuite.RoleUser:
			b.WriteString("User: ")
		case testsuite.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString(string(m.Role) + ": ")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}
