package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-testing/internal/conversation"
	"github.com/giantswarm/agent-testing/internal/invoker"
	"github.com/giantswarm/agent-testing/internal/llmserving"
	"github.com/giantswarm/agent-testing/internal/runner"
	"github.com/giantswarm/agent-testing/internal/server"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

func newRunCmd() *cobra.Command {
	var (
		tester              llmFlags
		judgeLLM            llmFlags
		results             storeFlags
		agentEndpoint       string
		personas            []string
		metricIDs           []string
		suitesDir           string
		timeout             time.Duration
		agentTimeout        time.Duration
		conversationTimeout time.Duration
		maxFollowUps        int
		concurrency         int
		inCluster           bool
	)

	cmd := &cobra.Command{
		Use:   "run <test-suite>",
		Short: "Run a test suite against an agent endpoint",
		Long: `Play every enabled scenario of a test suite against the agent under test, once
per persona. A tester LLM plans and drives each conversation, the agent's replies are
checked against the suite's output format and rules, and a judge LLM decides whether
the conversation met the expected outcome.

Results are written to the output directory (one run.json per run) or to MySQL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			suite, err := testsuite.Load(args[0], suitesDir)
			if err != nil {
				return fmt.Errorf("failed to load test suite: %w", err)
			}
			if agentEndpoint != "" {
				suite.Agent.Endpoint = agentEndpoint
			}

			discovery := newDiscoveryIfNeeded(cmd, inCluster, tester, judgeLLM)

			testerClient, err := newLLMClient(ctx, tester, discovery, "OPENAI_API_KEY")
			if err != nil {
				return fmt.Errorf("failed to configure tester LLM: %w", err)
			}
			judgeClient, err := newLLMClient(ctx, judgeLLM, discovery, "JUDGE_API_KEY", "OPENAI_API_KEY")
			if err != nil {
				return fmt.Errorf("failed to configure judge LLM: %w", err)
			}

			st, closeStore, err := results.open()
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					slog.Warn("failed to close result store", "error", err)
				}
			}()

			sc := &server.ServerContext{
				Tester:       testerClient,
				Judge:        judgeClient,
				JudgeModel:   judgeLLM.modelName(),
				Store:        st,
				SuitesDir:    suitesDir,
				AgentTimeout: agentTimeout,
				Concurrency:  concurrency,
				Conversation: conversation.Config{
					ConversationTimeout: conversationTimeout,
					MaxFollowUps:        maxFollowUps,
				},
			}

			r := sc.NewRunner(nil, runner.WithProgress(func(scenarioID, personaID string, idx, total int) {
				fmt.Printf("  [%d/%d] scenario %s, persona %s\n", idx, total, scenarioID, displayPersona(personaID))
			}))

			fmt.Printf("Test Suite: %s\n", suite.Name)
			fmt.Printf("Description: %s\n", suite.Description)
			fmt.Printf("Agent: %s\n", suite.Agent.Endpoint)
			fmt.Printf("Scenarios: %d enabled\n", len(suite.EnabledScenarios()))
			fmt.Println()

			run, err := r.Run(ctx, runner.Request{
				Suite:      suite,
				PersonaIDs: personas,
				MetricIDs:  metricIDs,
			})
			if run == nil {
				return err
			}

			printRun(run)
			if err != nil {
				return err
			}
			slog.Info("test run complete", "run_id", run.ID)
			return nil
		},
	}

	tester.register(cmd, "tester", "Tester")
	judgeLLM.register(cmd, "judge", "Judge")
	results.register(cmd)
	cmd.Flags().StringVar(&agentEndpoint, "endpoint", "", "Agent endpoint URL (overrides suite config)")
	cmd.Flags().StringSliceVar(&personas, "personas", nil, "Persona ids to run (default: all personas of the suite)")
	cmd.Flags().StringSliceVar(&metricIDs, "metrics", nil, "Custom metric ids to judge (default: all metrics of the suite)")
	cmd.Flags().StringVar(&suitesDir, "suites-dir", "", "External test suites directory")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall timeout for the test run (e.g. 30m, 1h). 0 means no timeout")
	cmd.Flags().DurationVar(&agentTimeout, "agent-timeout", invoker.DefaultTimeout, "Timeout for each call to the agent endpoint")
	cmd.Flags().DurationVar(&conversationTimeout, "conversation-timeout", 0, "Timeout for a whole conversation. 0 means no timeout")
	cmd.Flags().IntVar(&maxFollowUps, "max-follow-ups", 0, "Maximum planned follow-up turns per conversation. 0 means unlimited")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Number of conversations to run in parallel")
	cmd.Flags().BoolVar(&inCluster, "in-cluster", false, "Use in-cluster Kubernetes authentication for served-model discovery")

	return cmd
}

// newDiscoveryIfNeeded only connects to the cluster when a served model is requested.
func newDiscoveryIfNeeded(cmd *cobra.Command, inCluster bool, flags ...llmFlags) *llmserving.Discovery {
	for _, f := range flags {
		if f.servedModel != "" {
			return newDiscovery(cmd, inCluster)
		}
	}
	return nil
}

func displayPersona(id string) string {
	if id == "" {
		return "(none)"
	}
	return id
}

func printRun(run *testsuite.TestRun) {
	fmt.Printf("\nTest suite completed.\n")
	fmt.Printf("Run ID: %s\n", run.ID)
	fmt.Printf("Duration: %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	fmt.Printf("Results: %d total, %d passed, %d failed, %d correct, %d incorrect\n",
		run.Metrics.Total, run.Metrics.Passed, run.Metrics.Failed, run.Metrics.Correct, run.Metrics.Incorrect)
	fmt.Println()
	for _, c := range run.Chats {
		line := fmt.Sprintf("  - %-8s %s / %s", c.Status, c.ScenarioID, displayPersona(c.PersonaID))
		switch {
		case c.Error != "":
			line += ": " + c.Error
		case c.Verdict != nil && !c.Verdict.IsCorrect:
			line += ": judged incorrect"
		}
		fmt.Println(line)
	}
}
