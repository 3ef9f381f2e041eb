package testsuite

import "time"

// TestSuite represents a loaded suite: the agent under test, the personas and
// metrics available to runs, and the scenarios to play.
type TestSuite struct {
	Name          string      `yaml:"name" json:"name"`
	Description   string      `yaml:"description" json:"description"`
	Version       string      `yaml:"version" json:"version"`
	ScenariosFile string      `yaml:"scenarios_file" json:"-"`
	Agent         AgentConfig `yaml:"agent" json:"agent"`
	Tester        Tester      `yaml:"tester" json:"tester"`
	Personas      []Persona   `yaml:"personas" json:"personas"`
	Metrics       []Metric    `yaml:"metrics" json:"metrics"`
	Scenarios     []Scenario  `yaml:"-" json:"scenarios"` // loaded separately from CSV
}

// Tester configures the LLM that plays the human side of a conversation.
type Tester struct {
	SystemMessage string `yaml:"system_message" json:"system_message,omitempty"`
}

// AgentConfig describes how to reach the agent under test and where the
// interesting fields live in its request and response bodies.
type AgentConfig struct {
	Endpoint     string            `yaml:"endpoint" json:"endpoint" mapstructure:"endpoint"`
	Headers      map[string]string `yaml:"headers" json:"headers,omitempty" mapstructure:"headers"`
	InputFormat  string            `yaml:"input_format" json:"input_format,omitempty" mapstructure:"input_format"`
	OutputFormat string            `yaml:"output_format" json:"output_format,omitempty" mapstructure:"output_format"`
	Rules        []Rule            `yaml:"rules" json:"rules,omitempty" mapstructure:"rules"`
}

// Condition is the comparison a Rule applies to the value found at its path.
type Condition string

const (
	ConditionEquals             Condition = "equals"
	ConditionNotEquals          Condition = "notEquals"
	ConditionContains           Condition = "contains"
	ConditionNotContains        Condition = "notContains"
	ConditionGreaterThan        Condition = "greaterThan"
	ConditionLessThan           Condition = "lessThan"
	ConditionGreaterThanOrEqual Condition = "greaterThanOrEqual"
	ConditionLessThanOrEqual    Condition = "lessThanOrEqual"
	ConditionStartsWith         Condition = "startsWith"
	ConditionEndsWith           Condition = "endsWith"
	ConditionMatches            Condition = "matches"
	ConditionExists             Condition = "exists"
	ConditionNotExists          Condition = "notExists"
)

// Rule checks one field of a JSON response.
type Rule struct {
	ID          string    `yaml:"id" json:"id" mapstructure:"id"`
	Path        string    `yaml:"path" json:"path" mapstructure:"path"`
	Condition   Condition `yaml:"condition" json:"condition" mapstructure:"condition"`
	Value       string    `yaml:"value" json:"value" mapstructure:"value"`
	Description string    `yaml:"description" json:"description,omitempty" mapstructure:"description"`
}

// Persona is a personality profile injected into the tester's system prompt.
type Persona struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt,omitempty"`
}

// MetricType is the declared scale of a custom metric. Every type is scored
// 0 or 1 by the judge.
type MetricType string

const (
	MetricBinary      MetricType = "binary"
	MetricNumeric     MetricType = "numeric"
	MetricContinuous  MetricType = "continuous"
	MetricCategorical MetricType = "categorical"
)

// Metric is a custom judgement criterion applied to a whole conversation.
type Metric struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	Type        MetricType `yaml:"type" json:"type"`
	Criteria    string     `yaml:"criteria" json:"criteria"`
	Criticality string     `yaml:"criticality" json:"criticality,omitempty"`
}

// Scenario is a situation to play against the agent with its expected behaviour.
type Scenario struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	ExpectedOutput string `json:"expected_output"`
	Enabled        bool   `json:"enabled"`
}

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageMetrics are recorded per message. ResponseTime is only set on
// assistant messages.
type MessageMetrics struct {
	ResponseTime    time.Duration `json:"response_time"`
	ValidationScore float64       `json:"validation_score"`
}

// ConversationMessage is one entry of an append-only transcript.
type ConversationMessage struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chat_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metrics   MessageMetrics `json:"metrics"`
	CreatedAt time.Time      `json:"created_at"`
}

// MetricScore is the judge's binary score for one custom metric.
type MetricScore struct {
	ID     string `json:"id"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// Verdict is the final correctness judgement for one conversation.
type Verdict struct {
	IsCorrect   bool          `json:"is_correct"`
	Explanation string        `json:"explanation"`
	Metrics     []MetricScore `json:"metrics"`
}

// ChatStatus is the lifecycle state of a conversation record.
type ChatStatus string

const (
	ChatRunning ChatStatus = "running"
	ChatPassed  ChatStatus = "passed"
	ChatFailed  ChatStatus = "failed"
)

// Conversation is the persisted record of one (scenario, persona) execution.
type Conversation struct {
	ID                string                `json:"id"`
	RunID             string                `json:"run_id"`
	ScenarioID        string                `json:"scenario_id"`
	PersonaID         string                `json:"persona_id"`
	Status            ChatStatus            `json:"status"`
	Error             string                `json:"error,omitempty"`
	Messages          []ConversationMessage `json:"messages"`
	FinalResponse     string                `json:"final_response,omitempty"`
	TotalResponseTime time.Duration         `json:"total_response_time"`
	FormatValid       bool                  `json:"format_valid"`
	ConditionMet      bool                  `json:"condition_met"`
	Verdict           *Verdict              `json:"verdict,omitempty"`
}

// RunStatus is the lifecycle state of a test run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

// RunMetrics are the aggregate counters of a test run.
type RunMetrics struct {
	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
}

// TestRun aggregates the conversations of one run over scenarios × personas.
type TestRun struct {
	ID          string         `json:"id"`
	Suite       string         `json:"suite"`
	Status      RunStatus      `json:"status"`
	Metrics     RunMetrics     `json:"metrics"`
	Chats       []Conversation `json:"chats"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers can hand a snapshot to storage while
// the run keeps changing.
func (r *TestRun) Clone() *TestRun {
	out := *r
	out.Chats = make([]Conversation, len(r.Chats))
	for i, c := range r.Chats {
		out.Chats[i] = c.Clone()
	}
	return &out
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = append([]ConversationMessage(nil), c.Messages...)
	if c.Verdict != nil {
		v := *c.Verdict
		v.Metrics = append([]MetricScore(nil), c.Verdict.Metrics...)
		out.Verdict = &v
	}
	return out
}
