package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTestMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "TEST_MESSAGE: What is your refund policy?", "What is your refund policy?"},
		{"quoted", `TEST_MESSAGE: "Can I return this?"`, "Can I return this?"},
		{"bold label", "**TEST_MESSAGE:** Hi there", "Hi there"},
		{"bold before colon", "**TEST_MESSAGE**: Hi there", "Hi there"},
		{"lower case", "test_message: hello", "hello"},
		{"prose before", "Sure, here is my plan.\n\nTEST_MESSAGE: hello\nANALYSIS: fine", "hello"},
		{
			"reversed labels",
			"ANALYSIS: the agent should cite 30 days\nCONVERSATION_PLAN:\n1. ask again\nTEST_MESSAGE: refunds?",
			"refunds?",
		},
		{
			"label word inside prose",
			"TEST_MESSAGE: Before I buy, can you share your analysis: is the 30-day refund window enough?\nCONVERSATION_PLAN:\n1. Ask about exceptions",
			"Before I buy, can you share your analysis: is the 30-day refund window enough?",
		},
		{"lower case bold mid line", "Here goes **test_message:** hello", "hello"},
		{"multiline", "TEST_MESSAGE: line one\nline two\n\nANALYSIS: x", "line one\nline two"},
		{"first occurrence wins", "TEST_MESSAGE: first\nTEST_MESSAGE: second", "first"},
		{"missing", "I will ask about refunds.", ""},
		{"empty", "", ""},
		{"label only", "TEST_MESSAGE:", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTestMessage(tt.in))
		})
	}
}

func TestExtractConversationPlan(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			"numbered",
			"TEST_MESSAGE: hi\nCONVERSATION_PLAN:\n1. Ask about fees\n2) Ask for a manager\n\nANALYSIS: ok",
			[]string{"Ask about fees", "Ask for a manager"},
		},
		{
			"bulleted and bold",
			"CONVERSATION_PLAN:\n- **Push back**\n* Accept the answer\n",
			[]string{"Push back", "Accept the answer"},
		},
		{"inline", "CONVERSATION_PLAN: follow up on shipping", []string{"follow up on shipping"}},
		{"none", "TEST_MESSAGE: hi\nCONVERSATION_PLAN: None\nANALYSIS: single turn", []string{}},
		{"missing", "TEST_MESSAGE: hi", []string{}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractConversationPlan(tt.in))
		})
	}
}

func TestExtractAnalysis(t *testing.T) {
	assert.Equal(t, "checks refunds", ExtractAnalysis("TEST_MESSAGE: hi\n**ANALYSIS:** checks refunds"))
	assert.Empty(t, ExtractAnalysis("TEST_MESSAGE: hi"))
}

func TestParsePlan(t *testing.T) {
	p := ParsePlan("TEST_MESSAGE: hi\nCONVERSATION_PLAN:\n1. again")
	assert.Equal(t, OK, p.Status)
	assert.Equal(t, "hi", p.Message)
	assert.Equal(t, []string{"again"}, p.Steps)
	assert.Empty(t, p.Reason)

	p = ParsePlan("no labels at all")
	assert.Equal(t, Degraded, p.Status)
	assert.Empty(t, p.Message)
	assert.Contains(t, p.Reason, "no TEST_MESSAGE")

	p = ParsePlan("TEST_MESSAGE:\nANALYSIS: x")
	assert.Equal(t, Degraded, p.Status)
	assert.Contains(t, p.Reason, "empty")

	assert.Equal(t, "degraded", ParsePlan("").Status.String())
	assert.Equal(t, "ok", OK.String())
}

func TestParsersNeverPanicOnMalformedInput(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		`{"isCorrect": tr`,
		"TEST_MESSAGE",
		"TEST_MESSAGE:",
		":::::",
		"**",
		"CONVERSATION_PLAN:\n\n\n",
		"ANALYSIS: x TEST_MESSAGE: y CONVERSATION_PLAN: z",
		strings.Repeat("TEST_MESSAGE: a ", 1000),
		"\x00\xff\xfe",
		`"`,
		"“",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			_ = ExtractTestMessage(in)
			_ = ExtractAnalysis(in)
			steps := ExtractConversationPlan(in)
			assert.NotNil(t, steps)
			p := ParsePlan(in)
			assert.NotNil(t, p.Steps)
		})
	}
}
