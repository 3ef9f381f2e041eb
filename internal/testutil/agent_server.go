package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ReplyFunc returns the status code and body the stub agent answers with.
type ReplyFunc func(body []byte) (int, string)

// StaticReply always answers 200 with body.
func StaticReply(body string) ReplyFunc {
	return func([]byte) (int, string) {
		return http.StatusOK, body
	}
}

// AgentServer is a stub agent endpoint that records request bodies.
type AgentServer struct {
	*httptest.Server

	mu     sync.Mutex
	bodies [][]byte
}

// NewAgentServer starts a stub agent that is closed when the test ends.
func NewAgentServer(t testing.TB, reply ReplyFunc) *AgentServer {
	t.Helper()
	s := &AgentServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.mu.Unlock()

		status, resp := reply(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(s.Close)
	return s
}

// Bodies returns the request bodies received so far.
func (s *AgentServer) Bodies() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.bodies...)
}
