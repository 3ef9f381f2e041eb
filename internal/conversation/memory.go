package conversation

import "strings"

// Turn is one completed exchange: the human message and the agent's reply.
type Turn struct {
	Input  string
	Output string
}

// Memory holds the turns completed so far in one conversation execution.
// A Memory belongs to exactly one execution and is never shared.
type Memory struct {
	turns []Turn
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{}
}

// Append records a completed turn.
func (m *Memory) Append(t Turn) {
	m.turns = append(m.turns, t)
}

// Turns returns a copy of the recorded turns in order.
func (m *Memory) Turns() []Turn {
	return append([]Turn(nil), m.turns...)
}

// Len returns the number of recorded turns.
func (m *Memory) Len() int {
	return len(m.turns)
}

// Clear discards all turns.
func (m *Memory) Clear() {
	clear(m.turns)
	m.turns = nil
}

// History renders the turns as a role-labelled dialogue.
func (m *Memory) History() string {
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("User: ")
		b.WriteString(t.Input)
		b.WriteString("\n\nAgent: ")
		b.WriteString(t.Output)
	}
	return b.String()
}
