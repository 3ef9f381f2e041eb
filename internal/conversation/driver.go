// Package conversation drives a multi-turn conversation between the tester
// LLM and the agent under test, then hands the transcript to the judge.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/agent-testing/internal/extract"
	"github.com/giantswarm/agent-testing/internal/invoker"
	"github.com/giantswarm/agent-testing/internal/llm"
	"github.com/giantswarm/agent-testing/internal/metrics"
	"github.com/giantswarm/agent-testing/internal/testsuite"
	"github.com/giantswarm/agent-testing/internal/validator"
)

// Caller sends one request body to the agent endpoint.
type Caller interface {
	Call(ctx context.Context, url string, headers map[string]string, body []byte) (*invoker.RawResponse, error)
}

// ConversationValidator judges a finished transcript.
type ConversationValidator interface {
	ValidateFullConversation(ctx context.Context, transcript, scenario, expectedOutput string, metrics []testsuite.Metric) (*testsuite.Verdict, error)
}

// MessageRecorder persists messages as they are produced.
type MessageRecorder interface {
	AppendMessage(ctx context.Context, msg testsuite.ConversationMessage) error
}

// Config holds driver configuration.
type Config struct {
	// TesterPrompt is the base system prompt of the tester LLM.
	TesterPrompt string
	// ConversationTimeout bounds a whole conversation. Zero means no bound
	// beyond the per-call timeouts.
	ConversationTimeout time.Duration
	// MaxFollowUps caps the planned follow-up turns. Zero means unlimited.
	MaxFollowUps int
}

// Option configures a Driver.
type Option func(*Driver)

// WithConfig sets the driver configuration.
func WithConfig(cfg Config) Option {
	return func(d *Driver) {
		if cfg.TesterPrompt == "" {
			cfg.TesterPrompt = DefaultTesterPrompt
		}
		d.config = cfg
	}
}

// WithRecorder persists every message through r.
func WithRecorder(r MessageRecorder) Option {
	return func(d *Driver) {
		d.recorder = r
	}
}

// WithMetrics records turn durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) {
		d.metrics = m
	}
}

// Driver executes conversations. It holds no per-conversation state and is
// safe for concurrent use when its collaborators are.
type Driver struct {
	tester    llm.Client
	caller    Caller
	validator ConversationValidator
	recorder  MessageRecorder
	metrics   *metrics.Metrics
	config    Config
}

// NewDriver creates a Driver from its collaborators.
func NewDriver(tester llm.Client, caller Caller, validator ConversationValidator, opts ...Option) *Driver {
	d := &Driver{
		tester:    tester,
		caller:    caller,
		validator: validator,
		config:    Config{TesterPrompt: DefaultTesterPrompt},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Request describes one (scenario, persona) conversation.
type Request struct {
	ChatID   string
	Scenario testsuite.Scenario
	// Persona is nil when the conversation runs without persona customisation.
	Persona *testsuite.Persona
	// TesterContext is appended to the tester prompt, e.g. a suite's description
	// of the product under test.
	TesterContext string
	Agent         testsuite.AgentConfig
	Metrics       []testsuite.Metric
}

// Result is the outcome of a finished conversation.
type Result struct {
	Messages          []testsuite.ConversationMessage
	FinalResponse     string
	FinalRaw          []byte
	TotalResponseTime time.Duration
	Plan              extract.Plan
	FormatValid       bool
	ConditionMet      bool
	Verdict           testsuite.Verdict
	Passed            bool
}

// execution is the state of one conversation. It never outlives Execute.
type execution struct {
	*Driver
	req    Request
	memory *Memory
	log    *slog.Logger

	messages  []testsuite.ConversationMessage
	lastRaw   []byte
	lastReply string
	total     time.Duration
}

// Execute runs the conversation: plan, first turn, planned follow-ups, then
// validation. Any tester or endpoint failure aborts the conversation.
func (d *Driver) Execute(ctx context.Context, req Request) (*Result, error) {
	if d.config.ConversationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ConversationTimeout)
		defer cancel()
	}

	ex := &execution{
		Driver: d,
		req:    req,
		memory: NewMemory(),
		log:    slog.With("chat_id", req.ChatID, "scenario_id", req.Scenario.ID),
	}
	defer ex.memory.Clear()

	ex.enter(Planning)
	plan, err := ex.plan(ctx)
	if err != nil {
		return nil, err
	}

	ex.enter(FirstTurn)
	if err := ex.turn(ctx, plan.Message); err != nil {
		return nil, err
	}

	steps := plan.Steps
	if d.config.MaxFollowUps > 0 && len(steps) > d.config.MaxFollowUps {
		ex.log.Info("capping planned follow-ups", "planned", len(steps), "max", d.config.MaxFollowUps)
		steps = steps[:d.config.MaxFollowUps]
	}
	for i, step := range steps {
		ex.enter(MoreTurns)
		if err := ex.followUp(ctx, step, i+1, len(steps)); err != nil {
			return nil, err
		}
	}

	ex.enter(Validating)
	report := validator.Check(ex.lastRaw, req.Agent)
	verdict, err := d.validator.ValidateFullConversation(ctx, FormatTranscript(ex.messages), req.Scenario.Text, req.Scenario.ExpectedOutput, req.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to validate conversation: %w", err)
	}

	ex.enter(Done)
	return &Result{
		Messages:          ex.messages,
		FinalResponse:     ex.lastReply,
		FinalRaw:          ex.lastRaw,
		TotalResponseTime: ex.total,
		Plan:              plan,
		FormatValid:       report.FormatValid,
		ConditionMet:      report.ConditionMet,
		Verdict:           *verdict,
		Passed:            report.FormatValid && report.ConditionMet && verdict.IsCorrect,
	}, nil
}

func (ex *execution) enter(s State) {
	ex.log.Debug("conversation state", "state", s, "turns", ex.memory.Len())
}

func (ex *execution) plan(ctx context.Context) (extract.Plan, error) {
	req := llm.NewChatRequest(systemPrompt(ex.config.TesterPrompt, ex.req.TesterContext, ex.req.Persona), planningMessage(ex.req.Scenario))
	resp, err := ex.tester.ChatCompletion(ctx, req)
	if err != nil {
		return extract.Plan{}, fmt.Errorf("failed to run test: planning failed: %w", err)
	}

	plan := extract.ParsePlan(resp.Content)
	if plan.Status == extract.Degraded {
		ex.log.Warn("could not extract test message from tester output", "reason", plan.Reason)
	}
	ex.log.Debug("conversation planned", "follow_ups", len(plan.Steps))
	return plan, nil
}

func (ex *execution) followUp(ctx context.Context, step string, n, total int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to run test: %w", err)
	}

	prompt := followUpMessage(ex.memory.History(), ex.lastReply, step, n, total)
	resp, err := ex.tester.ChatCompletion(ctx, llm.NewChatRequest("", prompt))
	if err != nil {
		return fmt.Errorf("failed to run test: follow-up %d failed: %w", n, err)
	}

	message := extract.ExtractTestMessage(resp.Content)
	if message == "" {
		message = strings.TrimSpace(resp.Content)
		ex.log.Warn("follow-up output has no test message label, using it verbatim", "turn", n+1)
	}
	return ex.turn(ctx, message)
}

// turn sends message to the agent and appends the exchange.
func (ex *execution) turn(ctx context.Context, message string) error {
	agent := ex.req.Agent
	resp, err := ex.caller.Call(ctx, agent.Endpoint, agent.Headers, invoker.Format(message, agent.InputFormat))
	if err != nil {
		return fmt.Errorf("failed to run test: %w", err)
	}

	reply := extract.ChatReply(resp.Body, agent.OutputFormat, agent.Rules)
	report := validator.Check(resp.Body, agent)

	user := ex.newMessage(testsuite.RoleUser, message, testsuite.MessageMetrics{})
	assistant := ex.newMessage(testsuite.RoleAssistant, reply, testsuite.MessageMetrics{
		ResponseTime:    resp.Duration,
		ValidationScore: report.Score(),
	})
	ex.messages = append(ex.messages, user, assistant)
	ex.memory.Append(Turn{Input: message, Output: reply})
	ex.lastRaw = resp.Body
	ex.lastReply = reply
	ex.total += resp.Duration
	ex.metrics.ObserveTurn(resp.Duration)

	ex.record(ctx, user)
	ex.record(ctx, assistant)

	ex.log.Debug("turn completed",
		"turn", ex.memory.Len(),
		"response_time", resp.Duration,
		"format_valid", report.FormatValid,
		"condition_met", report.ConditionMet,
	)
	return nil
}

func (ex *execution) newMessage(role testsuite.Role, content string, m testsuite.MessageMetrics) testsuite.ConversationMessage {
	return testsuite.ConversationMessage{
		ID:        uuid.NewString(),
		ChatID:    ex.req.ChatID,
		Role:      role,
		Content:   content,
		Metrics:   m,
		CreatedAt: time.Now(),
	}
}

func (ex *execution) record(ctx context.Context, msg testsuite.ConversationMessage) {
	if ex.recorder == nil {
		return
	}
	if err := ex.recorder.AppendMessage(ctx, msg); err != nil {
		ex.log.Warn("failed to record message", "message_id", msg.ID, "error", err)
	}
}
