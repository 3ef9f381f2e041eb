package conversation

// State is a step of a conversation execution.
type State int

const (
	Planning State = iota
	FirstTurn
	MoreTurns
	Validating
	Done
)

func (s State) String() string {
	switch s {
	case Planning:
		return "planning"
	case FirstTurn:
		return "first_turn"
	case MoreTurns:
		return "more_turns"
	case Validating:
		return "validating"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
