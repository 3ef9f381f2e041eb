// Package filestore keeps runs on disk, one directory per run:
//
//	<dir>/<run-id>/run.json
//	<dir>/<run-id>/chats/<chat-id>.json
//	<dir>/<run-id>/chats/<chat-id>.messages.jsonl
package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/giantswarm/agent-testing/internal/store"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

const (
	runFile  = "run.json"
	chatsDir = "chats"
)

// Store is a store.Store backed by the local filesystem.
type Store struct {
	dir string

	mu        sync.Mutex
	chatToRun map[string]string
	// seen holds the message ids already written per chat, loaded from disk
	// on the first append to that chat.
	seen map[string]map[string]bool
}

var _ store.Store = (*Store)(nil)

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Store{
		dir:       dir,
		chatToRun: make(map[string]string),
		seen:      make(map[string]map[string]bool),
	}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// RunPath returns the path of a run's run.json.
func (s *Store) RunPath(id string) string {
	return filepath.Join(s.dir, id, runFile)
}

func (s *Store) CreateRun(_ context.Context, run *testsuite.TestRun) error {
	if err := checkID(s.dir, run.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.RunPath(run.ID), run)
}

func (s *Store) UpdateRun(ctx context.Context, run *testsuite.TestRun) error {
	return s.CreateRun(ctx, run)
}

func (s *Store) GetRun(_ context.Context, id string) (*testsuite.TestRun, error) {
	if err := checkID(s.dir, id); err != nil {
		return nil, err
	}
	return ReadRun(s.RunPath(id))
}

// ReadRun loads a run.json file.
func ReadRun(path string) (*testsuite.TestRun, error) {
	var run testsuite.TestRun
	if err := readJSON(path, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) ListRuns(_ context.Context) ([]*testsuite.TestRun, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}
	var runs []*testsuite.TestRun
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := ReadRun(filepath.Join(s.dir, e.Name(), runFile))
		if err != nil {
			// Directories without a run.json are not runs.
			continue
		}
		runs = append(runs, run)
	}
	store.SortRuns(runs)
	return runs, nil
}

func (s *Store) CreateConversation(_ context.Context, c *testsuite.Conversation) error {
	if c.RunID == "" {
		return fmt.Errorf("conversation %s has no run id", c.ID)
	}
	for _, id := range []string{c.RunID, c.ID} {
		if err := checkID(s.dir, id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatToRun[c.ID] = c.RunID
	return writeJSON(s.chatPath(c.RunID, c.ID), c)
}

func (s *Store) UpdateConversation(ctx context.Context, c *testsuite.Conversation) error {
	return s.CreateConversation(ctx, c)
}

func (s *Store) GetConversation(_ context.Context, id string) (*testsuite.Conversation, error) {
	s.mu.Lock()
	runID, err := s.runOf(id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var c testsuite.Conversation
	if err := readJSON(s.chatPath(runID, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) AppendMessage(_ context.Context, msg testsuite.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID, err := s.runOf(msg.ChatID)
	if err != nil {
		return err
	}
	path := s.messagesPath(runID, msg.ChatID)

	ids, ok := s.seen[msg.ChatID]
	if !ok {
		existing, err := readMessages(path)
		if err != nil {
			return err
		}
		ids = make(map[string]bool, len(existing))
		for _, m := range existing {
			ids[m.ID] = true
		}
		s.seen[msg.ChatID] = ids
	}
	if ids[msg.ID] {
		return nil
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open messages file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	ids[msg.ID] = true
	return nil
}

func (s *Store) Messages(_ context.Context, chatID string) ([]testsuite.ConversationMessage, error) {
	s.mu.Lock()
	runID, err := s.runOf(chatID)
	s.mu.Unlock()
	if errors.Is(err, store.ErrNotFound) {
		return []testsuite.ConversationMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	return readMessages(s.messagesPath(runID, chatID))
}

// runOf finds the run a conversation belongs to. Callers hold s.mu.
func (s *Store) runOf(chatID string) (string, error) {
	if err := checkID(s.dir, chatID); err != nil {
		return "", err
	}
	if runID, ok := s.chatToRun[chatID]; ok {
		return runID, nil
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, "*", chatsDir, chatID+".json"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("conversation %s: %w", chatID, store.ErrNotFound)
	}
	runID := filepath.Base(filepath.Dir(filepath.Dir(matches[0])))
	s.chatToRun[chatID] = runID
	return runID, nil
}

func (s *Store) chatPath(runID, chatID string) string {
	return filepath.Join(s.dir, runID, chatsDir, chatID+".json")
}

func (s *Store) messagesPath(runID, chatID string) string {
	return filepath.Join(s.dir, runID, chatsDir, chatID+".messages.jsonl")
}

func readMessages(path string) ([]testsuite.ConversationMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []testsuite.ConversationMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	msgs := []testsuite.ConversationMessage{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var m testsuite.ConversationMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("failed to parse message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, sc.Err()
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
