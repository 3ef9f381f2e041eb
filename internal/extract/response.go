package extract

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/giantswarm/agent-testing/internal/jsonpath"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// ReplyPath is the field agents conventionally put their reply in.
const ReplyPath = "response.text"

// conventionalFields are tried when neither the output format nor the rules
// locate a reply.
var conventionalFields = []string{
	"text",
	"message",
	"content",
	"answer",
	"output",
	"reply",
	"choices.0.message.content",
}

// ChatReply returns the agent's natural-language reply from a raw response.
func ChatReply(raw []byte, outputFormat string, rules []testsuite.Rule) string {
	if v, ok := jsonpath.Get(raw, ReplyPath); ok && v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
		return strings.TrimSpace(v.Str)
	}
	return ExtractChatResponse(raw, outputFormat, rules)
}

// ExtractChatResponse walks the string fields declared by outputFormat, then
// the rule paths, then conventional reply fields; the first non-empty string
// wins. Responses that are not JSON, or contain no such string, are returned
// as trimmed text.
func ExtractChatResponse(raw []byte, outputFormat string, rules []testsuite.Rule) string {
	trimmed := bytes.TrimSpace(raw)
	if !gjson.ValidBytes(trimmed) {
		return string(trimmed)
	}

	for _, l := range jsonpath.Leaves([]byte(outputFormat)) {
		if l.Value.Type != gjson.String {
			continue
		}
		if s, ok := nonEmptyString(gjson.GetBytes(trimmed, l.Path)); ok {
			return s
		}
	}

	for _, r := range rules {
		v, ok := jsonpath.Get(trimmed, r.Path)
		if !ok {
			continue
		}
		if s, ok := nonEmptyString(v); ok {
			return s
		}
	}

	for _, f := range conventionalFields {
		if s, ok := nonEmptyString(gjson.GetBytes(trimmed, f)); ok {
			return s
		}
	}

	// A bare JSON string is a reply in itself.
	if v := gjson.ParseBytes(trimmed); v.Type == gjson.String {
		return strings.TrimSpace(v.Str)
	}
	return string(trimmed)
}

func nonEmptyString(v gjson.Result) (string, bool) {
	if v.Type != gjson.String {
		return "", false
	}
	s := strings.TrimSpace(v.Str)
	return s, s != ""
}
