package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/agent-testing/internal/conversation"
	"github.com/giantswarm/agent-testing/internal/invoker"
	"github.com/giantswarm/agent-testing/internal/metrics"
	"github.com/giantswarm/agent-testing/internal/store"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// ProgressFunc is called before each (scenario, persona) pair starts.
// index is 1-based.
type ProgressFunc func(scenarioID, personaID string, index, total int)

// PersonaSource resolves persona ids.
type PersonaSource interface {
	GetPersonaByID(ctx context.Context, id string) (*testsuite.Persona, error)
}

// ConversationDriver executes one conversation.
type ConversationDriver interface {
	Execute(ctx context.Context, req conversation.Request) (*conversation.Result, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency runs up to n pairs at once. Values below 2 run sequentially.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		r.concurrency = n
	}
}

// WithPersonaSource resolves personas from src instead of the suite.
func WithPersonaSource(src PersonaSource) Option {
	return func(r *Runner) {
		r.personas = src
	}
}

// WithMetrics records run and conversation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) {
		r.progress = fn
	}
}

// Runner orchestrates test runs over scenarios × personas.
type Runner struct {
	driver      ConversationDriver
	store       store.Store
	personas    PersonaSource
	metrics     *metrics.Metrics
	concurrency int
	progress    ProgressFunc
}

// NewRunner creates a new test runner.
func NewRunner(driver ConversationDriver, st store.Store, opts ...Option) *Runner {
	r := &Runner{
		driver:      driver,
		store:       st,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetProgressFunc sets the progress callback.
func (r *Runner) SetProgressFunc(fn ProgressFunc) {
	r.progress = fn
}

// Request selects what a run covers.
type Request struct {
	Suite *testsuite.TestSuite
	// PersonaIDs selects personas; empty selects every persona of the suite.
	PersonaIDs []string
	// MetricIDs selects the custom metrics to judge; empty selects all.
	MetricIDs []string
}

type pair struct {
	scenario  testsuite.Scenario
	personaID string
}

// Run executes every enabled scenario with every selected persona. Failures of
// single pairs are recorded on the run and never abort it; the returned error
// is reserved for invalid requests and for runs that could not be persisted.
func (r *Runner) Run(ctx context.Context, req Request) (*testsuite.TestRun, error) {
	pairs, metricDefs, err := r.prepare(req)
	if err != nil {
		return nil, err
	}
	suite := req.Suite

	startedAt := time.Now()
	run := &testsuite.TestRun{
		ID:        newRunID(suite.Name, startedAt),
		Suite:     suite.Name,
		Status:    testsuite.RunRunning,
		Metrics:   testsuite.RunMetrics{Total: len(pairs)},
		Chats:     []testsuite.Conversation{},
		StartedAt: startedAt,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	r.metrics.RunStarted()
	defer r.metrics.RunFinished()

	slog.Info("running test suite",
		"run_id", run.ID,
		"suite", suite.Name,
		"pairs", len(pairs),
		"concurrency", r.concurrency,
	)

	var (
		mu    sync.Mutex
		chats = make([]*testsuite.Conversation, len(pairs))
	)
	finish := func(i int, chat testsuite.Conversation, res *conversation.Result) {
		mu.Lock()
		defer mu.Unlock()

		chats[i] = &chat
		switch {
		case res == nil:
			run.Metrics.Failed++
			run.Metrics.Incorrect++
		default:
			if res.Passed {
				run.Metrics.Passed++
			} else {
				run.Metrics.Failed++
			}
			if res.Verdict.IsCorrect {
				run.Metrics.Correct++
			} else {
				run.Metrics.Incorrect++
			}
		}
		run.Chats = collect(chats)
		if err := r.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
			slog.Warn("failed to persist run progress", "run_id", run.ID, "error", err)
		}
	}

	var g errgroup.Group
	g.SetLimit(max(r.concurrency, 1))
	for i, p := range pairs {
		g.Go(func() error {
			r.report(p, i+1, len(pairs))
			chat, res := r.runPair(ctx, run.ID, suite, p, metricDefs)
			finish(i, chat, res)
			return nil
		})
	}
	_ = g.Wait()

	run.Status = testsuite.RunCompleted
	run.CompletedAt = time.Now()
	run.Chats = collect(chats)

	slog.Info("test run complete",
		"run_id", run.ID,
		"total", run.Metrics.Total,
		"passed", run.Metrics.Passed,
		"failed", run.Metrics.Failed,
		"correct", run.Metrics.Correct,
		"incorrect", run.Metrics.Incorrect,
		"duration", run.CompletedAt.Sub(run.StartedAt),
	)

	if err := r.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		return run, fmt.Errorf("failed to persist run: %w", err)
	}
	return run, nil
}

// prepare validates the request and expands it into pairs. It performs no I/O.
func (r *Runner) prepare(req Request) ([]pair, []testsuite.Metric, error) {
	if req.Suite == nil {
		return nil, nil, &ConfigError{Field: "suite", Err: errors.New("no test suite given")}
	}
	if err := validateEndpoint(req.Suite.Agent.Endpoint); err != nil {
		return nil, nil, &ConfigError{Field: "agent.endpoint", Err: err}
	}
	metricDefs, err := req.Suite.MetricsByID(req.MetricIDs)
	if err != nil {
		return nil, nil, &ConfigError{Field: "metrics", Err: err}
	}

	personaIDs := req.PersonaIDs
	if len(personaIDs) == 0 {
		personaIDs = req.Suite.PersonaIDs()
	}
	if len(personaIDs) == 0 {
		// Without personas every scenario runs once, uncustomised.
		personaIDs = []string{""}
	}

	scenarios := req.Suite.EnabledScenarios()
	pairs := make([]pair, 0, len(scenarios)*len(personaIDs))
	for _, s := range scenarios {
		for _, id := range personaIDs {
			pairs = append(pairs, pair{scenario: s, personaID: id})
		}
	}
	return pairs, metricDefs, nil
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return invoker.ErrMissingEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", endpoint)
	}
	return nil
}

// runPair executes one pair. A nil result means the pair failed.
func (r *Runner) runPair(ctx context.Context, runID string, suite *testsuite.TestSuite, p pair, metricDefs []testsuite.Metric) (testsuite.Conversation, *conversation.Result) {
	chat := testsuite.Conversation{
		ID:         uuid.NewString(),
		RunID:      runID,
		ScenarioID: p.scenario.ID,
		PersonaID:  p.personaID,
		Status:     testsuite.ChatRunning,
		Messages:   []testsuite.ConversationMessage{},
	}
	log := slog.With("run_id", runID, "chat_id", chat.ID, "scenario_id", p.scenario.ID, "persona_id", p.personaID)

	// Persisted before the conversation starts so an interrupted pair leaves a record.
	if err := r.store.CreateConversation(context.WithoutCancel(ctx), &chat); err != nil {
		log.Warn("failed to persist conversation", "error", err)
	}

	res, err := r.execute(ctx, suite, chat.ID, p, metricDefs, log)
	if err != nil {
		log.Error("conversation failed", "error", err)
		chat.Status = testsuite.ChatFailed
		chat.Error = err.Error()
		res = nil
	} else {
		chat.Messages = res.Messages
		chat.FinalResponse = res.FinalResponse
		chat.TotalResponseTime = res.TotalResponseTime
		chat.FormatValid = res.FormatValid
		chat.ConditionMet = res.ConditionMet
		verdict := res.Verdict
		chat.Verdict = &verdict
		chat.Status = testsuite.ChatFailed
		if res.Passed {
			chat.Status = testsuite.ChatPassed
		}
		r.metrics.Verdict(verdict.IsCorrect)
		log.Info("conversation complete",
			"status", chat.Status,
			"turns", len(res.Messages)/2,
			"format_valid", res.FormatValid,
			"condition_met", res.ConditionMet,
			"is_correct", verdict.IsCorrect,
		)
	}
	r.metrics.ConversationFinished(string(chat.Status))

	if err := r.store.UpdateConversation(context.WithoutCancel(ctx), &chat); err != nil {
		log.Warn("failed to persist conversation", "error", err)
	}
	return chat, res
}

func (r *Runner) execute(ctx context.Context, suite *testsuite.TestSuite, chatID string, p pair, metricDefs []testsuite.Metric, log *slog.Logger) (*conversation.Result, error) {
	// Pairs not started before cancellation are recorded as failed.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to run test: %w", err)
	}

	var persona *testsuite.Persona
	if p.personaID != "" {
		src := r.personas
		if src == nil {
			src = suite
		}
		found, err := src.GetPersonaByID(ctx, p.personaID)
		if err != nil {
			log.Warn("failed to resolve persona, continuing without it", "error", err)
		} else {
			persona = found
		}
	}

	return r.driver.Execute(ctx, conversation.Request{
		ChatID:        chatID,
		Scenario:      p.scenario,
		Persona:       persona,
		TesterContext: suite.Tester.SystemMessage,
		Agent:         suite.Agent,
		Metrics:       metricDefs,
	})
}

func (r *Runner) report(p pair, index, total int) {
	if r.progress != nil {
		r.progress(p.scenario.ID, p.personaID, index, total)
	}
}

func collect(chats []*testsuite.Conversation) []testsuite.Conversation {
	out := make([]testsuite.Conversation, 0, len(chats))
	for _, c := range chats {
		if c != nil {
			out = append(out, c.Clone())
		}
	}
	return out
}

func newRunID(suite string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s", sanitizeFilename(suite), t.Format("20060102-150405"), uuid.NewString()[:8])
}

// sanitizeFilename replaces characters unsafe for filenames with underscores.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}
