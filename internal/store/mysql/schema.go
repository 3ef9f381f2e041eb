package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

type tables struct {
	Runs          string
	Conversations string
	Messages      string
}

func buildTables(prefix string) tables {
	return tables{
		Runs:          prefix + "runs",
		Conversations: prefix + "conversations",
		Messages:      prefix + "messages",
	}
}

func (t tables) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id VARCHAR(255) NOT NULL,
  suite VARCHAR(255) NOT NULL,
  status VARCHAR(32) NOT NULL,
  payload JSON NOT NULL,
  started_at DATETIME(6) NOT NULL,
  updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
  PRIMARY KEY (id),
  KEY idx_started_at (started_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, t.Runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id VARCHAR(255) NOT NULL,
  run_id VARCHAR(255) NOT NULL,
  status VARCHAR(32) NOT NULL,
  payload JSON NOT NULL,
  updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
  PRIMARY KEY (id),
  KEY idx_run_id (run_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, t.Conversations),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  seq BIGINT NOT NULL AUTO_INCREMENT,
  id VARCHAR(255) NOT NULL,
  chat_id VARCHAR(255) NOT NULL,
  role VARCHAR(32) NOT NULL,
  content MEDIUMTEXT NOT NULL,
  metrics JSON NOT NULL,
  created_at DATETIME(6) NOT NULL,
  PRIMARY KEY (seq),
  UNIQUE KEY uk_id (id),
  KEY idx_chat_id (chat_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, t.Messages),
	}
}

func ensureSchema(ctx context.Context, db *sql.DB, t tables) error {
	for _, stmt := range t.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table failed: %w", err)
		}
	}
	return nil
}
