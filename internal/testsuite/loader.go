package testsuite

import (
	"context"
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed all:testdata
var embeddedSuites embed.FS

// ErrPersonaNotFound is returned when a persona id is not defined by the suite.
var ErrPersonaNotFound = errors.New("persona not found")

// Load loads a test suite by name, searching first in the external directory
// (if provided), then in the embedded test suites.
func Load(name string, externalDir string) (*TestSuite, error) {
	if externalDir != "" {
		dir := filepath.Join(externalDir, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return loadFromFS(os.DirFS(dir), name)
		}
	}

	// Use path.Join (not filepath.Join) because embed.FS always uses forward slashes.
	subFS, err := fs.Sub(embeddedSuites, path.Join("testdata", name))
	if err != nil {
		return nil, fmt.Errorf("test suite %q not found: %w", name, err)
	}
	return loadFromFS(subFS, name)
}

// List returns the names of all available test suites.
func List(externalDir string) ([]string, error) {
	seen := make(map[string]bool)
	var names []string

	entries, err := fs.ReadDir(embeddedSuites, "testdata")
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = true
				names = append(names, e.Name())
			}
		}
	}

	if externalDir != "" {
		entries, err := os.ReadDir(externalDir)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() && !seen[e.Name()] {
					names = append(names, e.Name())
				}
			}
		}
	}

	return names, nil
}

// EnabledScenarios returns the scenarios that take part in runs.
func (s *TestSuite) EnabledScenarios() []Scenario {
	out := make([]Scenario, 0, len(s.Scenarios))
	for _, sc := range s.Scenarios {
		if sc.Enabled {
			out = append(out, sc)
		}
	}
	return out
}

// PersonaIDs returns the ids of all personas in declaration order.
func (s *TestSuite) PersonaIDs() []string {
	ids := make([]string, 0, len(s.Personas))
	for _, p := range s.Personas {
		ids = append(ids, p.ID)
	}
	return ids
}

// GetPersonaByID resolves a persona defined in the suite.
func (s *TestSuite) GetPersonaByID(_ context.Context, id string) (*Persona, error) {
	for i := range s.Personas {
		if s.Personas[i].ID == id {
			p := s.Personas[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPersonaNotFound, id)
}

// MetricsByID returns the suite metrics with the given ids, in the order
// requested. An empty id list selects every metric.
func (s *TestSuite) MetricsByID(ids []string) ([]Metric, error) {
	if len(ids) == 0 {
		return s.Metrics, nil
	}
	byID := make(map[string]Metric, len(s.Metrics))
	for _, m := range s.Metrics {
		byID[m.ID] = m
	}
	out := make([]Metric, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("metric %q not defined in suite %q", id, s.Name)
		}
		out = append(out, m)
	}
	return out, nil
}

func loadFromFS(fsys fs.FS, name string) (*TestSuite, error) {
	configData, err := fs.ReadFile(fsys, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read config.yaml for suite %q: %w", name, err)
	}

	var suite TestSuite
	if err := yaml.Unmarshal(configData, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse config.yaml for suite %q: %w", name, err)
	}

	if suite.ScenariosFile == "" {
		suite.ScenariosFile = "scenarios.csv"
	}
	for i := range suite.Metrics {
		if suite.Metrics[i].Type == "" {
			suite.Metrics[i].Type = MetricBinary
		}
	}

	// Header values usually carry credentials; keep them out of the file.
	suite.Agent.Endpoint = os.ExpandEnv(suite.Agent.Endpoint)
	for k, v := range suite.Agent.Headers {
		suite.Agent.Headers[k] = os.ExpandEnv(v)
	}

	scenarios, err := loadScenariosFromFS(fsys, suite.ScenariosFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios for suite %q: %w", name, err)
	}
	suite.Scenarios = scenarios

	return &suite, nil
}

func loadScenariosFromFS(fsys fs.FS, filename string) ([]Scenario, error) {
	f, err := fsys.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.TrimSpace(col)] = i
	}

	for _, required := range []string{"ID", "Scenario", "ExpectedOutput"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required CSV column: %s", required)
		}
	}

	minCols := 0
	for col, idx := range colIndex {
		if col == "Enabled" {
			continue
		}
		if idx >= minCols {
			minCols = idx + 1
		}
	}

	var scenarios []Scenario
	for lineNum := 2; ; lineNum++ { // lineNum starts at 2 (1-indexed, after header).
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", lineNum, err)
		}
		if len(record) < minCols {
			return nil, fmt.Errorf("CSV row %d has %d columns, expected at least %d", lineNum, len(record), minCols)
		}

		enabled := true
		if idx, ok := colIndex["Enabled"]; ok && idx < len(record) && strings.TrimSpace(record[idx]) != "" {
			enabled, err = strconv.ParseBool(strings.TrimSpace(record[idx]))
			if err != nil {
				return nil, fmt.Errorf("CSV row %d: invalid Enabled value %q", lineNum, record[idx])
			}
		}

		scenarios = append(scenarios, Scenario{
			ID:             strings.TrimSpace(record[colIndex["ID"]]),
			Text:           record[colIndex["Scenario"]],
			ExpectedOutput: record[colIndex["ExpectedOutput"]],
			Enabled:        enabled,
		})
	}

	return scenarios, nil
}
