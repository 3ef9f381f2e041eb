package server

import (
	"time"

	"github.com/giantswarm/agent-testing/internal/conversation"
	"github.com/giantswarm/agent-testing/internal/invoker"
	"github.com/giantswarm/agent-testing/internal/judge"
	"github.com/giantswarm/agent-testing/internal/llm"
	"github.com/giantswarm/agent-testing/internal/llmserving"
	"github.com/giantswarm/agent-testing/internal/metrics"
	"github.com/giantswarm/agent-testing/internal/runner"
	"github.com/giantswarm/agent-testing/internal/store"
)

// ServerContext holds shared dependencies for MCP tool handlers and CLI commands.
type ServerContext struct {
	// Models is nil when no cluster is reachable.
	Models *llmserving.Discovery
	Tester llm.Client
	// Judge defaults to Tester when nil.
	Judge      llm.Client
	JudgeModel string
	Store      store.Store
	Metrics    *metrics.Metrics
	SuitesDir  string // external test suites directory (optional)

	AgentTimeout time.Duration
	Concurrency  int
	Conversation conversation.Config
}

// JudgeClient returns the client used for validation.
func (sc *ServerContext) JudgeClient() llm.Client {
	if sc.Judge != nil {
		return sc.Judge
	}
	return sc.Tester
}

// NewJudge builds the dual-pass conversation judge.
func (sc *ServerContext) NewJudge() *judge.Judge {
	return judge.New(sc.JudgeClient(), judge.Config{Model: sc.JudgeModel})
}

// NewRunner wires a conversation driver and a run orchestrator on top of the
// shared dependencies. tester overrides sc.Tester when non-nil.
func (sc *ServerContext) NewRunner(tester llm.Client, opts ...runner.Option) *runner.Runner {
	if tester == nil {
		tester = sc.Tester
	}

	var invokerOpts []invoker.Option
	if sc.AgentTimeout > 0 {
		invokerOpts = append(invokerOpts, invoker.WithTimeout(sc.AgentTimeout))
	}

	driver := conversation.NewDriver(tester, invoker.New(invokerOpts...), sc.NewJudge(),
		conversation.WithConfig(sc.Conversation),
		conversation.WithRecorder(sc.Store),
		conversation.WithMetrics(sc.Metrics),
	)

	opts = append([]runner.Option{
		runner.WithConcurrency(sc.Concurrency),
		runner.WithMetrics(sc.Metrics),
	}, opts...)
	return runner.NewRunner(driver, sc.Store, opts...)
}
