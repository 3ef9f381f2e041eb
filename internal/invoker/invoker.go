// Package invoker sends test messages to the agent under test.
package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
	"unicode/utf8"
)

// DefaultTimeout bounds a single call to the agent endpoint.
const DefaultTimeout = 10 * time.Second

// maxBodySize caps how much of an agent response is read into memory.
const maxBodySize = 10 << 20

// ErrMissingEndpoint is returned before any network I/O when no URL is configured.
var ErrMissingEndpoint = errors.New("agent endpoint is not configured")

// ExternalAPIError is returned for every failed call to the agent endpoint:
// transport errors, non-2xx responses and timeouts.
type ExternalAPIError struct {
	URL        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *ExternalAPIError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("request to %s timed out: %v", e.URL, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("request to %s returned status %d: %v", e.URL, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	}
}

func (e *ExternalAPIError) Unwrap() error {
	return e.Err
}

// RawResponse is the unparsed reply of the agent endpoint.
type RawResponse struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Invoker issues one POST per call with a per-call timeout and no retries.
type Invoker struct {
	client  *http.Client
	timeout time.Duration
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		i.timeout = d
	}
}

// WithHTTPClient sets the HTTP client used for calls.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Invoker) {
		i.client = c
	}
}

// New creates an Invoker.
func New(opts ...Option) *Invoker {
	i := &Invoker{
		client:  http.DefaultClient,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Timeout returns the per-call timeout.
func (i *Invoker) Timeout() time.Duration {
	return i.timeout
}

// Call posts body as JSON to url with the given headers.
func (i *Invoker) Call(ctx context.Context, url string, headers map[string]string, body []byte) (*RawResponse, error) {
	if url == "" {
		return nil, ErrMissingEndpoint
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ExternalAPIError{URL: url, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := i.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &ExternalAPIError{URL: url, Timeout: true, Err: fmt.Errorf("no response after %s: %w", i.timeout, err)}
		}
		return nil, &ExternalAPIError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	elapsed := time.Since(start)
	if err != nil {
		if isTimeout(err) {
			return nil, &ExternalAPIError{URL: url, StatusCode: resp.StatusCode, Timeout: true, Err: err}
		}
		return nil, &ExternalAPIError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ExternalAPIError{URL: url, StatusCode: resp.StatusCode, Err: errors.New(snippet(data))}
	}

	return &RawResponse{StatusCode: resp.StatusCode, Body: data, Duration: elapsed}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func snippet(body []byte) string {
	const limit = 200
	s := string(bytes.TrimSpace(body))
	if len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
