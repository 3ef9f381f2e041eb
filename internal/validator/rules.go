package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/giantswarm/agent-testing/internal/jsonpath"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// RuleResult is the outcome of one rule against one response.
type RuleResult struct {
	RuleID    string              `json:"rule_id"`
	Path      string              `json:"path"`
	Condition testsuite.Condition `json:"condition"`
	Expected  string              `json:"expected"`
	Actual    string              `json:"actual,omitempty"`
	Passed    bool                `json:"passed"`
	Reason    string              `json:"reason,omitempty"`
}

// ValidateCondition reports whether every rule holds for response. An empty
// rule set is satisfied.
func ValidateCondition(response []byte, rules []testsuite.Rule) bool {
	for _, r := range CheckRules(response, rules) {
		if !r.Passed {
			return false
		}
	}
	return true
}

// CheckRules evaluates each rule against response.
func CheckRules(response []byte, rules []testsuite.Rule) []RuleResult {
	results := make([]RuleResult, 0, len(rules))
	valid := gjson.ValidBytes(response)
	for _, rule := range rules {
		res := RuleResult{
			RuleID:    rule.ID,
			Path:      rule.Path,
			Condition: rule.Condition,
			Expected:  rule.Value,
		}
		if !valid {
			res.Reason = "response is not valid JSON"
			results = append(results, res)
			continue
		}

		actual, found := jsonpath.Get(response, rule.Path)
		if found {
			res.Actual = actual.String()
		}
		res.Passed, res.Reason = evaluate(rule, actual, found)
		results = append(results, res)
	}
	return results
}

func evaluate(rule testsuite.Rule, actual gjson.Result, found bool) (bool, string) {
	switch rule.Condition {
	case testsuite.ConditionExists:
		if !found {
			return false, "path not found"
		}
		return true, ""
	case testsuite.ConditionNotExists:
		if found {
			return false, "path is present"
		}
		return true, ""
	}

	if !found {
		return false, "path not found"
	}

	var ok bool
	switch rule.Condition {
	case testsuite.ConditionEquals:
		ok = equals(actual, rule.Value)
	case testsuite.ConditionNotEquals:
		ok = !equals(actual, rule.Value)
	case testsuite.ConditionContains:
		ok = contains(actual, rule.Value)
	case testsuite.ConditionNotContains:
		ok = !contains(actual, rule.Value)
	case testsuite.ConditionGreaterThan:
		ok = compare(actual, rule.Value, func(a, b float64) bool { return a > b })
	case testsuite.ConditionLessThan:
		ok = compare(actual, rule.Value, func(a, b float64) bool { return a < b })
	case testsuite.ConditionGreaterThanOrEqual:
		ok = compare(actual, rule.Value, func(a, b float64) bool { return a >= b })
	case testsuite.ConditionLessThanOrEqual:
		ok = compare(actual, rule.Value, func(a, b float64) bool { return a <= b })
	case testsuite.ConditionStartsWith:
		ok = strings.HasPrefix(actual.String(), rule.Value)
	case testsuite.ConditionEndsWith:
		ok = strings.HasSuffix(actual.String(), rule.Value)
	case testsuite.ConditionMatches:
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			return false, fmt.Sprintf("invalid pattern: %v", err)
		}
		ok = re.MatchString(actual.String())
	default:
		return false, fmt.Sprintf("unknown condition %q", rule.Condition)
	}

	if !ok {
		return false, fmt.Sprintf("%s %s %q does not hold", truncate(actual.String()), rule.Condition, rule.Value)
	}
	return true, ""
}

func equals(actual gjson.Result, expected string) bool {
	switch actual.Type {
	case gjson.Number:
		if f, err := strconv.ParseFloat(strings.TrimSpace(expected), 64); err == nil {
			return actual.Num == f
		}
	case gjson.True, gjson.False:
		if b, err := strconv.ParseBool(strings.TrimSpace(expected)); err == nil {
			return actual.Bool() == b
		}
	}
	return actual.String() == expected
}

func contains(actual gjson.Result, expected string) bool {
	if actual.IsArray() {
		for _, el := range actual.Array() {
			if equals(el, expected) {
				return true
			}
		}
		return false
	}
	return strings.Contains(actual.String(), expected)
}

func compare(actual gjson.Result, expected string, cmp func(a, b float64) bool) bool {
	want, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if err != nil {
		return false
	}
	var got float64
	switch actual.Type {
	case gjson.Number:
		got = actual.Num
	case gjson.String:
		got, err = strconv.ParseFloat(strings.TrimSpace(actual.Str), 64)
		if err != nil {
			return false
		}
	default:
		return false
	}
	return cmp(got, want)
}

func truncate(s string) string {
	const limit = 80
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
