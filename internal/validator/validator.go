package validator

import "github.com/giantswarm/agent-testing/internal/testsuite"

// Report combines the format and rule checks of one response.
type Report struct {
	FormatValid  bool         `json:"format_valid"`
	FormatError  string       `json:"format_error,omitempty"`
	ConditionMet bool         `json:"condition_met"`
	Rules        []RuleResult `json:"rules,omitempty"`
}

// Check runs both checks against response.
func Check(response []byte, agent testsuite.AgentConfig) Report {
	rep := Report{FormatValid: true, ConditionMet: true}
	if err := formatError(response, agent.OutputFormat); err != nil {
		rep.FormatValid = false
		rep.FormatError = err.Error()
	}
	rep.Rules = CheckRules(response, agent.Rules)
	for _, r := range rep.Rules {
		if !r.Passed {
			rep.ConditionMet = false
			break
		}
	}
	return rep
}

// Score is 1 when both checks pass and 0 otherwise.
func (r Report) Score() float64 {
	if r.FormatValid && r.ConditionMet {
		return 1
	}
	return 0
}
