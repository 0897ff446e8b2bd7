package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLite backs every store in this package with a single database file.
type SQLite struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLite opens the database at dbPath and creates the schema.
func NewSQLite(logger *zap.Logger, dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes; a single connection avoids SQLITE_BUSY
	// races between concurrent executions.
	db.SetMaxOpenConns(1)

	storage := &SQLite{
		logger: logger,
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLite) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			address TEXT NOT NULL UNIQUE,
			ssh_user TEXT NOT NULL,
			ssh_port INTEGER NOT NULL DEFAULT 22,
			status TEXT NOT NULL DEFAULT 'offline',
			provision_status TEXT NOT NULL DEFAULT 'pending',
			key_path TEXT,
			provision_error TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_servers_status ON servers(status);
		CREATE INDEX IF NOT EXISTS idx_servers_provision ON servers(provision_status);

		CREATE TABLE IF NOT EXISTS playbooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			path TEXT NOT NULL,
			inventory TEXT NOT NULL DEFAULT 'dynamic',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			playbook_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			server_ids TEXT NOT NULL,
			dry_run INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			error_class TEXT,
			error TEXT,
			submitted_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_executions_state ON executions(state);
		CREATE INDEX IF NOT EXISTS idx_executions_playbook ON executions(playbook_id);
		CREATE INDEX IF NOT EXISTS idx_executions_user ON executions(user_id);
		CREATE INDEX IF NOT EXISTS idx_executions_submitted ON executions(submitted_at);

		CREATE TABLE IF NOT EXISTS execution_targets (
			execution_id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			ok INTEGER,
			output TEXT,
			error TEXT,
			started_at DATETIME,
			completed_at DATETIME,
			PRIMARY KEY (execution_id, server_id)
		);
		CREATE INDEX IF NOT EXISTS idx_execution_targets_execution ON execution_targets(execution_id);

		CREATE TABLE IF NOT EXISTS metrics (
			server_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			cpu TEXT NOT NULL,
			memory TEXT NOT NULL,
			disk TEXT NOT NULL,
			gpu TEXT NOT NULL,
			PRIMARY KEY (server_id, timestamp)
		);
		CREATE INDEX IF NOT EXISTS idx_metrics_server ON metrics(server_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}
