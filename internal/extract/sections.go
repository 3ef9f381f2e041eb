// Package extract pulls structured data out of tester LLM output and agent
// responses. Nothing in here fails: malformed input yields empty results.
package extract

import (
	"regexp"
	"strings"
)

// Section labels the tester LLM is instructed to emit.
const (
	LabelTestMessage      = "TEST_MESSAGE"
	LabelConversationPlan = "CONVERSATION_PLAN"
	LabelAnalysis         = "ANALYSIS"
)

// labelPattern matches a label with optional markdown bold on either side of
// the colon, e.g. "TEST_MESSAGE:", "**Test_Message:**" or "**TEST_MESSAGE**:".
// Any case is accepted in bold or at the start of a line; elsewhere only the
// upper-case form counts, so "analysis:" in the middle of prose is not a label.
var labelPattern = regexp.MustCompile(
	`(?:\*\*(?i:(` + labelAlternatives + `))` +
		`|(?m:^)[ \t]*(?i:(` + labelAlternatives + `))` +
		`|\b(` + labelAlternatives + `))` +
		`\b\*{0,2}[ \t]*:[ \t]*\*{0,2}`,
)

const labelAlternatives = LabelTestMessage + "|" + LabelConversationPlan + "|" + LabelAnalysis

var (
	planItemPrefix = regexp.MustCompile(`^(?:\d+[.)]|[-*•])\s*`)
	emptyPlan      = map[string]bool{"none": true, "n/a": true, "-": true}
)

// sections splits out into labelled sections. Each section runs until the
// next label or the end of the text; the first occurrence of a label wins.
func sections(out string) map[string]string {
	found := make(map[string]string)
	matches := labelPattern.FindAllStringSubmatchIndex(out, -1)
	for i, m := range matches {
		label := matchedLabel(out, m)
		if _, seen := found[label]; seen {
			continue
		}
		end := len(out)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		found[label] = strings.TrimSpace(out[m[1]:end])
	}
	return found
}

// matchedLabel returns the upper-cased label from whichever alternative of
// labelPattern matched.
func matchedLabel(out string, m []int) string {
	for g := 2; g+1 < len(m); g += 2 {
		if m[g] >= 0 {
			return strings.ToUpper(out[m[g]:m[g+1]])
		}
	}
	return ""
}

// ExtractTestMessage returns the TEST_MESSAGE section, or "" when absent.
func ExtractTestMessage(out string) string {
	return unquote(sections(out)[LabelTestMessage])
}

// ExtractAnalysis returns the ANALYSIS section, or "" when absent.
func ExtractAnalysis(out string) string {
	return sections(out)[LabelAnalysis]
}

// ExtractConversationPlan returns the planned follow-up steps. A missing or
// empty section yields an empty plan, which means a single-turn conversation.
func ExtractConversationPlan(out string) []string {
	return planSteps(sections(out)[LabelConversationPlan])
}

func planSteps(section string) []string {
	steps := []string{}
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(planItemPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		line = strings.Trim(line, "*")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		steps = append(steps, line)
	}
	if len(steps) == 1 && emptyPlan[strings.ToLower(strings.TrimSuffix(steps[0], "."))] {
		return []string{}
	}
	return steps
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"`", "`"}} {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}
