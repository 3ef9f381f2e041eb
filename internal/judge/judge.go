// Package judge validates finished conversations with an LLM. Every
// conversation is judged twice, once against the expected output and once
// against the custom metrics, and the two judgments are merged.
package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/giantswarm/agent-testing/internal/llm"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// DefaultModel is the default model used for judging.
const DefaultModel = "gpt-4o"

// Config holds judge configuration.
type Config struct {
	Model string
}

// Judge evaluates conversations using an LLM.
type Judge struct {
	client llm.Client
	config Config
}

// New creates a new Judge.
func New(client llm.Client, config Config) *Judge {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	return &Judge{client: client, config: config}
}

// Model returns the model the judge asks.
func (j *Judge) Model() string {
	return j.config.Model
}

// ValidateFullConversation runs both passes and merges them. LLM call
// failures are returned; unparseable judge output is not an error.
func (j *Judge) ValidateFullConversation(ctx context.Context, transcript, scenario, expectedOutput string, metrics []testsuite.Metric) (*testsuite.Verdict, error) {
	expected, err := j.JudgeExpectedOutput(ctx, transcript, scenario, expectedOutput)
	if err != nil {
		return nil, err
	}
	scored, err := j.JudgeMetrics(ctx, transcript, scenario, expectedOutput, metrics)
	if err != nil {
		return nil, err
	}

	verdict := Merge(expected, scored)
	slog.Debug("conversation judged",
		"is_correct", verdict.IsCorrect,
		"expected_output_correct", expected.IsCorrect,
		"metrics_correct", scored.IsCorrect,
		"metrics", len(verdict.Metrics),
	)
	return &verdict, nil
}

// JudgeExpectedOutput asks whether the transcript satisfies the expected output.
func (j *Judge) JudgeExpectedOutput(ctx context.Context, transcript, scenario, expectedOutput string) (Judgment, error) {
	text, err := j.evaluate(ctx, ExpectedOutputPrompt, expectedOutputMessage(transcript, scenario, expectedOutput))
	if err != nil {
		return Judgment{}, fmt.Errorf("expected output judgment failed: %w", err)
	}
	res := ParseExpectedOutputJudgment(text)
	if res.ParseErr != "" {
		slog.Warn("could not parse expected output judgment", "error", res.ParseErr)
	}
	return res, nil
}

// JudgeMetrics scores the transcript against the custom metrics.
func (j *Judge) JudgeMetrics(ctx context.Context, transcript, scenario, expectedOutput string, metrics []testsuite.Metric) (Judgment, error) {
	text, err := j.evaluate(ctx, MetricsPrompt, metricsMessage(transcript, scenario, expectedOutput, metrics))
	if err != nil {
		return Judgment{}, fmt.Errorf("metrics judgment failed: %w", err)
	}
	res := ParseMetricsJudgment(text)
	if res.ParseErr != "" {
		slog.Warn("could not parse metrics judgment", "error", res.ParseErr)
	}
	return res, nil
}

// Merge combines the expected-output judgment a and the metrics judgment b.
// The conversation is correct only when both passes say so; metric scores
// come from b alone.
func Merge(a, b Judgment) testsuite.Verdict {
	metrics := b.Metrics
	if metrics == nil {
		metrics = []testsuite.MetricScore{}
	}
	return testsuite.Verdict{
		IsCorrect:   a.IsCorrect && b.IsCorrect,
		Explanation: fmt.Sprintf("Expected output: %s\n\nMetrics: %s", a.Explanation, b.Explanation),
		Metrics:     metrics,
	}
}

func (j *Judge) evaluate(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	req := llm.NewChatRequest(systemPrompt, userMessage)
	req.Model = j.config.Model
	req.Temperature = llm.Float64Ptr(0)

	// Each pass makes exactly one request. Only a client that cannot stream
	// at all gets the non-streaming call instead.
	stream, err := j.client.ChatCompletionStream(ctx, req)
	if err == nil {
		text, err := llm.CollectStream(stream)
		if err != nil {
			return "", fmt.Errorf("failed to read judge stream: %w", err)
		}
		return text, nil
	}
	if !errors.Is(err, llm.ErrStreamingUnsupported) {
		return "", err
	}
	slog.Debug("streaming not available, using non-streaming", "error", err)

	resp, err := j.client.ChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
