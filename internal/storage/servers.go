package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/model"
)

// ServerStore defines the interface for server persistence
type ServerStore interface {
	// CreateServer inserts a new server record
	CreateServer(ctx context.Context, server *model.Server) error

	// GetServer retrieves a server by ID
	GetServer(ctx context.Context, id string) (*model.Server, error)

	// GetServerByName retrieves a server by its unique name
	GetServerByName(ctx context.Context, name string) (*model.Server, error)

	// GetServerByAddress retrieves a server by its unique address
	GetServerByAddress(ctx context.Context, address string) (*model.Server, error)

	// ListServers retrieves all servers ordered by creation time
	ListServers(ctx context.Context) ([]*model.Server, error)

	// ListServersByStatus retrieves servers filtered by online/offline status
	ListServersByStatus(ctx context.Context, status model.ServerStatus) ([]*model.Server, error)

	// CountServers returns the total number of servers
	CountServers(ctx context.Context) (int, error)

	// CountServersByStatus returns the number of servers with the given status
	CountServersByStatus(ctx context.Context, status model.ServerStatus) (int, error)

	// UpdateProvision is the single mutation path for provisioning state.
	// Owned by the provisioner.
	UpdateProvision(ctx context.Context, id string, status model.ProvisionStatus, keyPath, reason string) error

	// UpdateStatus is the single mutation path for online/offline state.
	// Owned by the health checker.
	UpdateStatus(ctx context.Context, id string, status model.ServerStatus) error

	// DeleteServer removes a server record
	DeleteServer(ctx context.Context, id string) error
}

const serverColumns = `id, name, address, ssh_user, ssh_port, status, provision_status, key_path, provision_error, created_at`

// CreateServer implements ServerStore.CreateServer
func (s *SQLite) CreateServer(ctx context.Context, server *model.Server) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (
			id, name, address, ssh_user, ssh_port, status, provision_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		server.ID,
		server.Name,
		server.Address,
		server.SSHUser,
		server.SSHPort,
		server.Status,
		server.Provision,
		server.CreatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			if exists, lookupErr := s.GetServerByAddress(ctx, server.Address); lookupErr == nil && exists != nil {
				return ErrDuplicateAddress
			}
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to store server: %w", err)
	}
	return nil
}

func (s *SQLite) scanServer(row *sql.Row) (*model.Server, error) {
	var server model.Server
	var keyPath, provisionError sql.NullString

	err := row.Scan(
		&server.ID,
		&server.Name,
		&server.Address,
		&server.SSHUser,
		&server.SSHPort,
		&server.Status,
		&server.Provision,
		&keyPath,
		&provisionError,
		&server.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan server: %w", err)
	}

	if keyPath.Valid {
		server.KeyPath = keyPath.String
	}
	if provisionError.Valid {
		server.ProvisionError = provisionError.String
	}

	return &server, nil
}

// GetServer implements ServerStore.GetServer
func (s *SQLite) GetServer(ctx context.Context, id string) (*model.Server, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	return s.scanServer(row)
}

// GetServerByName implements ServerStore.GetServerByName
func (s *SQLite) GetServerByName(ctx context.Context, name string) (*model.Server, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE name = ?`, name)
	return s.scanServer(row)
}

// GetServerByAddress implements ServerStore.GetServerByAddress
func (s *SQLite) GetServerByAddress(ctx context.Context, address string) (*model.Server, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE address = ?`, address)
	return s.scanServer(row)
}

func (s *SQLite) queryServers(ctx context.Context, query string, args ...interface{}) ([]*model.Server, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []*model.Server
	for rows.Next() {
		server := &model.Server{}
		var keyPath, provisionError sql.NullString

		err := rows.Scan(
			&server.ID,
			&server.Name,
			&server.Address,
			&server.SSHUser,
			&server.SSHPort,
			&server.Status,
			&server.Provision,
			&keyPath,
			&provisionError,
			&server.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}

		if keyPath.Valid {
			server.KeyPath = keyPath.String
		}
		if provisionError.Valid {
			server.ProvisionError = provisionError.String
		}

		servers = append(servers, server)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return servers, nil
}

// ListServers implements ServerStore.ListServers
func (s *SQLite) ListServers(ctx context.Context) ([]*model.Server, error) {
	return s.queryServers(ctx,
		`SELECT `+serverColumns+` FROM servers ORDER BY created_at`)
}

// ListServersByStatus implements ServerStore.ListServersByStatus
func (s *SQLite) ListServersByStatus(ctx context.Context, status model.ServerStatus) ([]*model.Server, error) {
	return s.queryServers(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE status = ? ORDER BY created_at`, status)
}

// CountServers implements ServerStore.CountServers
func (s *SQLite) CountServers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM servers`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count servers: %w", err)
	}
	return count, nil
}

// CountServersByStatus implements ServerStore.CountServersByStatus
func (s *SQLite) CountServersByStatus(ctx context.Context, status model.ServerStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM servers WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count servers: %w", err)
	}
	return count, nil
}

// UpdateProvision implements ServerStore.UpdateProvision
func (s *SQLite) UpdateProvision(ctx context.Context, id string, status model.ProvisionStatus, keyPath, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE servers SET
			provision_status = ?,
			key_path = ?,
			provision_error = ?
		WHERE id = ?`,
		status,
		sql.NullString{String: keyPath, Valid: keyPath != ""},
		sql.NullString{String: reason, Valid: reason != ""},
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update provision status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("Updated server provision status",
		zap.String("server_id", id),
		zap.String("status", string(status)))

	return nil
}

// UpdateStatus implements ServerStore.UpdateStatus
func (s *SQLite) UpdateStatus(ctx context.Context, id string, status model.ServerStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE servers SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update server status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteServer implements ServerStore.DeleteServer
func (s *SQLite) DeleteServer(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
