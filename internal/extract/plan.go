package extract

// Outcome tags the result of parsing tester output.
type Outcome int

const (
	// OK means a test message was found.
	OK Outcome = iota
	// Degraded means no usable test message was found; the conversation
	// continues with an empty message.
	Degraded
)

func (o Outcome) String() string {
	if o == OK {
		return "ok"
	}
	return "degraded"
}

// Plan is the parsed planning output of the tester LLM.
type Plan struct {
	Status  Outcome
	Message string
	Steps   []string
	Reason  string
}

// ParsePlan parses the planning output of the tester LLM.
func ParsePlan(out string) Plan {
	s := sections(out)
	p := Plan{
		Message: unquote(s[LabelTestMessage]),
		Steps:   planSteps(s[LabelConversationPlan]),
	}
	switch {
	case p.Message != "":
		p.Status = OK
	case out == "":
		p.Status, p.Reason = Degraded, "empty tester output"
	default:
		if _, ok := s[LabelTestMessage]; ok {
			p.Status, p.Reason = Degraded, LabelTestMessage+" section is empty"
		} else {
			p.Status, p.Reason = Degraded, "no "+LabelTestMessage+" section found"
		}
	}
	return p
}
