package invoker

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/giantswarm/agent-testing/internal/jsonpath"
)

// Placeholder marks where the test message goes in an input format template.
const Placeholder = "{{message}}"

// DefaultMessageField is used when the input format does not say where the
// message belongs.
const DefaultMessageField = "message"

// Format builds the request body for the agent under test. The message is
// substituted into every string leaf of inputFormat containing Placeholder;
// without a placeholder it replaces the first string leaf. Templates that are
// empty, invalid, not objects or without string leaves fall back to
// {"message": message}.
func Format(message, inputFormat string) []byte {
	tmpl := []byte(strings.TrimSpace(inputFormat))
	if len(tmpl) == 0 || !gjson.ValidBytes(tmpl) || !gjson.ParseBytes(tmpl).IsObject() {
		return defaultBody(message)
	}

	var strLeaves []jsonpath.Leaf
	for _, l := range jsonpath.Leaves(tmpl) {
		if l.Value.Type == gjson.String {
			strLeaves = append(strLeaves, l)
		}
	}
	if len(strLeaves) == 0 {
		return defaultBody(message)
	}

	body := tmpl
	placed := false
	for _, l := range strLeaves {
		if !strings.Contains(l.Value.Str, Placeholder) {
			continue
		}
		out, err := sjson.SetBytes(body, l.Path, strings.ReplaceAll(l.Value.Str, Placeholder, message))
		if err != nil {
			return defaultBody(message)
		}
		body = out
		placed = true
	}
	if placed {
		return body
	}

	out, err := sjson.SetBytes(body, strLeaves[0].Path, message)
	if err != nil {
		return defaultBody(message)
	}
	return out
}

func defaultBody(message string) []byte {
	body, _ := sjson.SetBytes([]byte(`{}`), DefaultMessageField, message)
	return body
}
