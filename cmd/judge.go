package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-testing/internal/conversation"
	"github.com/giantswarm/agent-testing/internal/judge"
	"github.com/giantswarm/agent-testing/internal/store/filestore"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

func newJudgeCmd() *cobra.Command {
	var (
		judgeLLM  llmFlags
		suiteName string
		suitesDir string
		metricIDs []string
		output    string
		inCluster bool
	)

	cmd := &cobra.Command{
		Use:   "judge <run.json>",
		Short: "Re-judge the conversations of a stored run",
		Long: `Send every recorded conversation of a run to the judge LLM again, for example
with a different judge model. The scenario text and expected output are read from the
test suite. The updated run is written next to the input as run.judged.json.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runFile := args[0]

			run, err := filestore.ReadRun(runFile)
			if err != nil {
				return fmt.Errorf("failed to read run: %w", err)
			}
			if suiteName == "" {
				return fmt.Errorf("--suite is required to look up scenarios")
			}
			suite, err := testsuite.Load(suiteName, suitesDir)
			if err != nil {
				return fmt.Errorf("failed to load test suite: %w", err)
			}
			metrics, err := suite.MetricsByID(metricIDs)
			if err != nil {
				return err
			}

			discovery := newDiscoveryIfNeeded(cmd, inCluster, judgeLLM)
			client, err := newLLMClient(ctx, judgeLLM, discovery, "JUDGE_API_KEY", "OPENAI_API_KEY")
			if err != nil {
				return fmt.Errorf("failed to configure judge LLM: %w", err)
			}
			j := judge.New(client, judge.Config{Model: judgeLLM.modelName()})

			scenarios := make(map[string]testsuite.Scenario, len(suite.Scenarios))
			for _, s := range suite.Scenarios {
				scenarios[s.ID] = s
			}

			fmt.Printf("Judging: %s\n", runFile)
			fmt.Printf("Model: %s\n\n", j.Model())

			run.Metrics.Correct, run.Metrics.Incorrect = 0, 0
			for i := range run.Chats {
				chat := &run.Chats[i]
				scenario, ok := scenarios[chat.ScenarioID]
				if !ok || len(chat.Messages) == 0 {
					run.Metrics.Incorrect++
					fmt.Printf("  - skipped  %s / %s\n", chat.ScenarioID, displayPersona(chat.PersonaID))
					continue
				}

				verdict, err := j.ValidateFullConversation(ctx, conversation.FormatTranscript(chat.Messages), scenario.Text, scenario.ExpectedOutput, metrics)
				if err != nil {
					return fmt.Errorf("failed to judge conversation %s: %w", chat.ID, err)
				}
				chat.Verdict = verdict
				if verdict.IsCorrect {
					run.Metrics.Correct++
				} else {
					run.Metrics.Incorrect++
				}
				fmt.Printf("  - %-8s %s / %s\n", correctness(verdict.IsCorrect), chat.ScenarioID, displayPersona(chat.PersonaID))
			}

			if output == "" {
				output = filepath.Join(filepath.Dir(runFile), "run.judged.json")
			}
			data, err := json.MarshalIndent(run, "", "    ")
			if err != nil {
				return fmt.Errorf("failed to marshal run: %w", err)
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}

			fmt.Printf("\nCorrect: %d/%d\n", run.Metrics.Correct, len(run.Chats))
			fmt.Printf("Judged run written to: %s\n", output)
			return nil
		},
	}

	judgeLLM.register(cmd, "judge", "Judge")
	cmd.Flags().StringVar(&suiteName, "suite", "", "Test suite the run was produced from")
	cmd.Flags().StringVar(&suitesDir, "suites-dir", "", "External test suites directory")
	cmd.Flags().StringSliceVar(&metricIDs, "metrics", nil, "Custom metric ids to judge (default: all metrics of the suite)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: run.judged.json next to the input)")
	cmd.Flags().BoolVar(&inCluster, "in-cluster", false, "Use in-cluster Kubernetes authentication for served-model discovery")

	return cmd
}

func correctness(ok bool) string {
	if ok {
		return "correct"
	}
	return "incorrect"
}
