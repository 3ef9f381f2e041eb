package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

const (
	outputText = "text"
	outputJSON = "json"
)

// suiteListing is the json form of one listed suite.
type suiteListing struct {
	Dir       string   `json:"dir"`
	Name      string   `json:"name,omitempty"`
	Version   string   `json:"version,omitempty"`
	Endpoint  string   `json:"endpoint,omitempty"`
	Scenarios int      `json:"scenarios"`
	Enabled   int      `json:"enabled"`
	Personas  []string `json:"personas"`
	Metrics   []string `json:"metrics"`
	Rules     int      `json:"rules"`
	Error     string   `json:"error,omitempty"`
}

func newListCmd() *cobra.Command {
	var (
		suitesDir string
		output    string
		runs      bool
		results   storeFlags
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available test suites, or stored runs with --runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != outputText && output != outputJSON {
				return fmt.Errorf("unsupported output %q (supported: %s, %s)", output, outputText, outputJSON)
			}
			if runs {
				return listRuns(cmd, results, output)
			}

			names, err := testsuite.List(suitesDir)
			if err != nil {
				return fmt.Errorf("failed to list test suites: %w", err)
			}

			listings := make([]suiteListing, 0, len(names))
			for _, name := range names {
				listings = append(listings, describeSuite(name, suitesDir))
			}
			if output == outputJSON {
				return printJSON(listings)
			}

			if len(listings) == 0 {
				fmt.Println("No test suites found.")
				return nil
			}
			fmt.Printf("Available test suites:\n\n")
			for _, l := range listings {
				if l.Error != "" {
					fmt.Printf("  - %s (error loading: %s)\n", l.Dir, l.Error)
					continue
				}
				fmt.Printf("  - %s (%s, version %s)\n", l.Dir, l.Name, l.Version)
				fmt.Printf("    Agent: %s\n", l.Endpoint)
				fmt.Printf("    Scenarios: %d (%d enabled), rules: %d\n", l.Scenarios, l.Enabled, l.Rules)
				fmt.Printf("    Personas: %s\n", joinOrNone(l.Personas))
				fmt.Printf("    Metrics: %s\n\n", joinOrNone(l.Metrics))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&suitesDir, "suites-dir", "", "External test suites directory")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text or json")
	cmd.Flags().BoolVar(&runs, "runs", false, "List stored test runs instead of suites")
	results.register(cmd)

	return cmd
}

func describeSuite(dir, suitesDir string) suiteListing {
	suite, err := testsuite.Load(dir, suitesDir)
	if err != nil {
		return suiteListing{Dir: dir, Error: err.Error()}
	}
	metricIDs := make([]string, 0, len(suite.Metrics))
	for _, m := range suite.Metrics {
		metricIDs = append(metricIDs, m.ID)
	}
	return suiteListing{
		Dir:       dir,
		Name:      suite.Name,
		Version:   suite.Version,
		Endpoint:  suite.Agent.Endpoint,
		Scenarios: len(suite.Scenarios),
		Enabled:   len(suite.EnabledScenarios()),
		Personas:  suite.PersonaIDs(),
		Metrics:   metricIDs,
		Rules:     len(suite.Agent.Rules),
	}
}

func listRuns(cmd *cobra.Command, results storeFlags, output string) error {
	st, closeStore, err := results.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Warn("failed to close result store", "error", err)
		}
	}()

	stored, err := st.ListRuns(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if output == outputJSON {
		return printJSON(stored)
	}
	if len(stored) == 0 {
		fmt.Println("No test runs found.")
		return nil
	}
	for _, run := range stored {
		m := run.Metrics
		fmt.Printf("  - %s  %s  %s  %d/%d passed, %d correct\n",
			run.ID, run.StartedAt.Format(time.RFC3339), run.Status, m.Passed, m.Total, m.Correct)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
