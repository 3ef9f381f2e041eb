package judge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// Judgment is the parsed outcome of one judge pass.
type Judgment struct {
	IsCorrect   bool                    `json:"is_correct"`
	Explanation string                  `json:"explanation"`
	Metrics     []testsuite.MetricScore `json:"metrics,omitempty"`
	RawOutput   string                  `json:"raw_output"`
	ParseErr    string                  `json:"parse_error,omitempty"`
}

// ParseExpectedOutputJudgment parses the expected-output pass. Output that
// holds no usable JSON verdict yields IsCorrect=false.
func ParseExpectedOutputJudgment(text string) Judgment {
	obj, err := findVerdictObject(text)
	if err != nil {
		return parseFailure(text, err)
	}
	return Judgment{
		IsCorrect:   boolValue(field(obj, "isCorrect", "is_correct")),
		Explanation: strings.TrimSpace(obj.Get("explanation").String()),
		RawOutput:   text,
	}
}

// ParseMetricsJudgment parses the metrics pass. Scores are normalised to 0 or
// 1; every entry the judge returned is kept, including ids that were not
// asked for.
func ParseMetricsJudgment(text string) Judgment {
	obj, err := findVerdictObject(text)
	if err != nil {
		return parseFailure(text, err)
	}

	scores := []testsuite.MetricScore{}
	obj.Get("metrics").ForEach(func(_, m gjson.Result) bool {
		scores = append(scores, testsuite.MetricScore{
			ID:     m.Get("id").String(),
			Score:  binaryScore(m.Get("score")),
			Reason: strings.TrimSpace(m.Get("reason").String()),
		})
		return true
	})

	return Judgment{
		IsCorrect:   boolValue(field(obj, "isCorrect", "is_correct")),
		Explanation: strings.TrimSpace(obj.Get("explanation").String()),
		Metrics:     scores,
		RawOutput:   text,
	}
}

func parseFailure(text string, err error) Judgment {
	return Judgment{
		IsCorrect:   false,
		Explanation: fmt.Sprintf("Could not parse judge output: %v", err),
		RawOutput:   text,
		ParseErr:    err.Error(),
	}
}

// findVerdictObject locates the first JSON object in text that carries an
// isCorrect field. Code fences and surrounding prose are ignored.
func findVerdictObject(text string) (gjson.Result, error) {
	if strings.TrimSpace(text) == "" {
		return gjson.Result{}, fmt.Errorf("empty output")
	}
	for i := strings.IndexByte(text, '{'); i >= 0; {
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			obj := gjson.ParseBytes(raw)
			if obj.IsObject() && field(obj, "isCorrect", "is_correct").Exists() {
				return obj, nil
			}
		}
		next := strings.IndexByte(text[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return gjson.Result{}, fmt.Errorf("no JSON object with isCorrect found")
}

func field(obj gjson.Result, names ...string) gjson.Result {
	for _, n := range names {
		if v := obj.Get(n); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func boolValue(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.String:
		b, err := strconv.ParseBool(strings.TrimSpace(v.Str))
		return err == nil && b
	case gjson.Number:
		return v.Num >= 0.5
	default:
		return false
	}
}

// binaryScore maps any score the judge returns onto {0, 1}.
func binaryScore(v gjson.Result) int {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Num
	case gjson.True:
		f = 1
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0
		}
		f = parsed
	}
	if f >= 0.5 {
		return 1
	}
	return 0
}
