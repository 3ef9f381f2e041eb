package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	runs     map[string]*testsuite.TestRun
	chats    map[string]testsuite.Conversation
	messages map[string][]testsuite.ConversationMessage
	seen     map[string]bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:     make(map[string]*testsuite.TestRun),
		chats:    make(map[string]testsuite.Conversation),
		messages: make(map[string][]testsuite.ConversationMessage),
		seen:     make(map[string]bool),
	}
}

func (m *Memory) CreateRun(_ context.Context, run *testsuite.TestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run.Clone()
	return nil
}

func (m *Memory) UpdateRun(ctx context.Context, run *testsuite.TestRun) error {
	return m.CreateRun(ctx, run)
}

func (m *Memory) GetRun(_ context.Context, id string) (*testsuite.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run.Clone(), nil
}

func (m *Memory) ListRuns(_ context.Context) ([]*testsuite.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*testsuite.TestRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r.Clone())
	}
	SortRuns(out)
	return out, nil
}

func (m *Memory) CreateConversation(_ context.Context, c *testsuite.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.ID] = c.Clone()
	return nil
}

func (m *Memory) UpdateConversation(ctx context.Context, c *testsuite.Conversation) error {
	return m.CreateConversation(ctx, c)
}

func (m *Memory) GetConversation(_ context.Context, id string) (*testsuite.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	out := c.Clone()
	return &out, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg testsuite.ConversationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[msg.ID] {
		return nil
	}
	m.seen[msg.ID] = true
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], msg)
	return nil
}

func (m *Memory) Messages(_ context.Context, chatID string) ([]testsuite.ConversationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]testsuite.ConversationMessage{}, m.messages[chatID]...), nil
}

// SortRuns orders runs newest first, breaking ties by id.
func SortRuns(runs []*testsuite.TestRun) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
