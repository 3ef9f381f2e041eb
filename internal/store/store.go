// Package store persists test runs, conversations and messages. Every write
// is idempotent by id so callers may retry or repeat them.
package store

import (
	"context"
	"errors"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator of the run orchestrator.
type Store interface {
	CreateRun(ctx context.Context, run *testsuite.TestRun) error
	UpdateRun(ctx context.Context, run *testsuite.TestRun) error
	GetRun(ctx context.Context, id string) (*testsuite.TestRun, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]*testsuite.TestRun, error)

	CreateConversation(ctx context.Context, c *testsuite.Conversation) error
	UpdateConversation(ctx context.Context, c *testsuite.Conversation) error
	GetConversation(ctx context.Context, id string) (*testsuite.Conversation, error)

	AppendMessage(ctx context.Context, msg testsuite.ConversationMessage) error
	// Messages returns the messages of a conversation in append order.
	Messages(ctx context.Context, chatID string) ([]testsuite.ConversationMessage, error)
}
