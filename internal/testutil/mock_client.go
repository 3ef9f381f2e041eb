// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/giantswarm/agent-testing/internal/llm"
)

// MockLLMClient is a configurable mock for llm.Client used across test packages.
// Responses are chosen in this order: Handler, Script, Responses keyed by the
// last user message, DefaultResponse.
type MockLLMClient struct {
	// Handler computes a response from the request when set.
	Handler func(req llm.ChatRequest) (string, error)

	// Script is consumed one entry per call.
	Script []string

	// Responses maps user messages to canned responses.
	Responses map[string]string

	// DefaultResponse is returned when nothing else matches.
	DefaultResponse string

	// Err is returned by every ChatCompletion call when set.
	Err error

	mu       sync.Mutex
	calls    int
	requests []llm.ChatRequest
}

func (m *MockLLMClient) ChatCompletion(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.requests = append(m.requests, req)

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Handler != nil {
		content, err := m.Handler(req)
		if err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Content: content}, nil
	}
	if len(m.Script) > 0 {
		content := m.Script[0]
		m.Script = m.Script[1:]
		return &llm.ChatResponse{Content: content}, nil
	}
	if resp, ok := m.Responses[req.UserMessage()]; ok {
		return &llm.ChatResponse{Content: resp}, nil
	}
	if m.DefaultResponse != "" {
		return &llm.ChatResponse{Content: m.DefaultResponse}, nil
	}
	return &llm.ChatResponse{Content: "mock response"}, nil
}

func (m *MockLLMClient) ChatCompletionStream(_ context.Context, _ llm.ChatRequest) (*llm.StreamReader, error) {
	return nil, fmt.Errorf("%w in mock", llm.ErrStreamingUnsupported)
}

// Calls returns the number of ChatCompletion invocations.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request received so far.
func (m *MockLLMClient) Requests() []llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.ChatRequest(nil), m.requests...)
}

// LastRequest returns the most recent request.
func (m *MockLLMClient) LastRequest() llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return llm.ChatRequest{}
	}
	return m.requests[len(m.requests)-1]
}
