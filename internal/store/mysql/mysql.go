// Package mysql is a MySQL-backed store.Store. Records are upserted by id and
// carry their full JSON form in a payload column.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/giantswarm/agent-testing/internal/store"
	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// Store persists runs in MySQL.
type Store struct {
	db     *sql.DB
	tables tables
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and prepares the schema.
func Open(dsn string, opts ...Option) (*Store, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	connector, err := driver.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector failed: %w", err)
	}
	db := sql.OpenDB(connector)

	s, err := New(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	o := newOptions(opts...)
	s := &Store{db: db, tables: buildTables(o.tablePrefix)}
	if !o.skipDBInit {
		ctx, cancel := context.WithTimeout(context.Background(), o.initTimeout)
		defer cancel()
		if err := ensureSchema(ctx, db, s.tables); err != nil {
			return nil, fmt.Errorf("init database failed: %w", err)
		}
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateRun(ctx context.Context, run *testsuite.TestRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (id, suite, status, payload, started_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		   status = VALUES(status),
		   payload = VALUES(payload),
		   updated_at = CURRENT_TIMESTAMP(6)`,
		s.tables.Runs,
	)
	if _, err := s.db.ExecContext(ctx, query, run.ID, run.Suite, string(run.Status), payload, run.StartedAt.UTC()); err != nil {
		return fmt.Errorf("store run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, run *testsuite.TestRun) error {
	return s.CreateRun(ctx, run)
}

func (s *Store) GetRun(ctx context.Context, id string) (*testsuite.TestRun, error) {
	var payload []byte
	query := fmt.Sprintf("SELECT payload FROM %s WHERE id = ?", s.tables.Runs)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	var run testsuite.TestRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", id, err)
	}
	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context) ([]*testsuite.TestRun, error) {
	query := fmt.Sprintf("SELECT payload FROM %s ORDER BY started_at DESC, id ASC", s.tables.Runs)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []*testsuite.TestRun{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		var run testsuite.TestRun
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *Store) CreateConversation(ctx context.Context, c *testsuite.Conversation) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", c.ID, err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (id, run_id, status, payload)
		 VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		   status = VALUES(status),
		   payload = VALUES(payload),
		   updated_at = CURRENT_TIMESTAMP(6)`,
		s.tables.Conversations,
	)
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.RunID, string(c.Status), payload); err != nil {
		return fmt.Errorf("store conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) UpdateConversation(ctx context.Context, c *testsuite.Conversation) error {
	return s.CreateConversation(ctx, c)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*testsuite.Conversation, error) {
	var payload []byte
	query := fmt.Sprintf("SELECT payload FROM %s WHERE id = ?", s.tables.Conversations)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	var c testsuite.Conversation
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", id, err)
	}
	return &c, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg testsuite.ConversationMessage) error {
	metrics, err := json.Marshal(msg.Metrics)
	if err != nil {
		return fmt.Errorf("marshal message metrics %s: %w", msg.ID, err)
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	query := fmt.Sprintf(
		"INSERT IGNORE INTO %s (id, chat_id, role, content, metrics, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		s.tables.Messages,
	)
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.ChatID, string(msg.Role), msg.Content, metrics, createdAt.UTC()); err != nil {
		return fmt.Errorf("store message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) Messages(ctx context.Context, chatID string) ([]testsuite.ConversationMessage, error) {
	query := fmt.Sprintf(
		"SELECT id, role, content, metrics, created_at FROM %s WHERE chat_id = ? ORDER BY seq ASC",
		s.tables.Messages,
	)
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", chatID, err)
	}
	defer rows.Close()

	msgs := []testsuite.ConversationMessage{}
	for rows.Next() {
		var (
			m       testsuite.ConversationMessage
			role    string
			metrics []byte
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &metrics, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("list messages of %s: %w", chatID, err)
		}
		if err := json.Unmarshal(metrics, &m.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal message metrics %s: %w", m.ID, err)
		}
		m.ChatID = chatID
		m.Role = testsuite.Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", chatID, err)
	}
	return msgs, nil
}
