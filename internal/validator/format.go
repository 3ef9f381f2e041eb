// Package validator runs the deterministic checks on a single raw agent
// response: structural conformance with the configured output format and the
// configured rules. All functions are pure.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaResource = "output-format.json"

// ValidateResponseFormat reports whether every path declared by outputFormat
// resolves in response to a value of a compatible type. An empty or invalid
// template declares nothing and is always satisfied.
func ValidateResponseFormat(response []byte, outputFormat string) bool {
	return formatError(response, outputFormat) == nil
}

// formatError returns why response does not conform to outputFormat.
func formatError(response []byte, outputFormat string) error {
	schemaDoc, err := FormatSchema(outputFormat)
	if err != nil || schemaDoc == nil {
		return nil
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(response))
	if err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}

	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("failed to serialize schema: %w", err)
	}
	schemaValue, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse schema for validation: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResource, schemaValue); err != nil {
		return fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaResource)
	if err != nil {
		return fmt.Errorf("failed to compile output format schema: %w", err)
	}
	return schema.Validate(instance)
}

// FormatSchema derives a JSON Schema from an output format template. Objects
// require all their keys, arrays require at least as many items as the
// template lists and take their item schema from the first element, scalars
// constrain the type and null accepts anything. It returns nil for an empty
// template.
func FormatSchema(outputFormat string) (map[string]any, error) {
	if strings.TrimSpace(outputFormat) == "" {
		return nil, nil
	}
	var tmpl any
	if err := json.Unmarshal([]byte(outputFormat), &tmpl); err != nil {
		return nil, fmt.Errorf("invalid output format template: %w", err)
	}
	return schemaFor(tmpl), nil
}

func schemaFor(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		props := make(map[string]any, len(t))
		required := make([]any, 0, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			props[k] = schemaFor(t[k])
			required = append(required, k)
		}
		return map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		}
	case []any:
		s := map[string]any{"type": "array"}
		if len(t) > 0 {
			s["minItems"] = float64(len(t))
			s["items"] = schemaFor(t[0])
		}
		return s
	case string:
		return map[string]any{"type": "string"}
	case float64:
		return map[string]any{"type": "number"}
	case bool:
		return map[string]any{"type": "boolean"}
	default:
		return map[string]any{}
	}
}
