package llm

import (
	"fmt"
	"net/url"
)

// OpenAIBaseURL is the hosted OpenAI API endpoint, used when no base URL is given.
const OpenAIBaseURL = "https://api.openai.com/v1"

// Float64Ptr returns a pointer to the given float64 value.
// Useful for constructing ChatRequest with an explicit temperature.
func Float64Ptr(v float64) *float64 {
	return &v
}

// clientConfig holds configuration for an LLM client.
type clientConfig struct {
	baseURL     string
	apiKey      string
	model       string
	temperature *float64
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		baseURL: OpenAIBaseURL,
	}
}

// Option is a functional option for configuring an LLM client.
type Option func(*clientConfig)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model name for requests.
// Per-request model settings in ChatRequest take precedence.
func WithModel(model string) Option {
	return func(c *clientConfig) {
		c.model = model
	}
}

// WithTemperature sets the default temperature for requests.
// Per-request temperature settings in ChatRequest take precedence.
func WithTemperature(temp float64) Option {
	return func(c *clientConfig) {
		c.temperature = &temp
	}
}

// ValidateOptions checks that the options describe a usable client before any
// request is made. Self-hosted endpoints (vLLM, KServe) may run without a key;
// the hosted OpenAI API may not.
func ValidateOptions(opts ...Option) error {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	u, err := url.Parse(cfg.baseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid LLM base URL %q", cfg.baseURL)
	}
	if cfg.apiKey == "" && u.Host == "api.openai.com" {
		return fmt.Errorf("%w for %s (use --api-key or OPENAI_API_KEY)", ErrMissingAPIKey, cfg.baseURL)
	}
	return nil
}
