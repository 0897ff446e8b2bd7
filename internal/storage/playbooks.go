package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/t77yq/playbook-orchestrator/internal/model"
)

// PlaybookStore defines the interface for playbook catalog persistence
type PlaybookStore interface {
	// CreatePlaybook inserts a new playbook record
	CreatePlaybook(ctx context.Context, playbook *model.Playbook) error

	// GetPlaybook retrieves a playbook by ID
	GetPlaybook(ctx context.Context, id string) (*model.Playbook, error)

	// GetPlaybookByName retrieves a playbook by its unique name
	GetPlaybookByName(ctx context.Context, name string) (*model.Playbook, error)

	// ListPlaybooks retrieves all playbooks ordered by creation time
	ListPlaybooks(ctx context.Context) ([]*model.Playbook, error)

	// CountPlaybooks returns the total number of playbooks
	CountPlaybooks(ctx context.Context) (int, error)

	// UpdatePlaybookPath updates the script path of a playbook
	UpdatePlaybookPath(ctx context.Context, id, path string) error

	// DeletePlaybook removes a playbook record
	DeletePlaybook(ctx context.Context, id string) error
}

// CreatePlaybook implements PlaybookStore.CreatePlaybook
func (s *SQLite) CreatePlaybook(ctx context.Context, playbook *model.Playbook) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playbooks (id, name, path, inventory, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		playbook.ID,
		playbook.Name,
		playbook.Path,
		playbook.Inventory,
		playbook.CreatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to store playbook: %w", err)
	}
	return nil
}

func (s *SQLite) scanPlaybook(row *sql.Row) (*model.Playbook, error) {
	var playbook model.Playbook
	err := row.Scan(
		&playbook.ID,
		&playbook.Name,
		&playbook.Path,
		&playbook.Inventory,
		&playbook.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan playbook: %w", err)
	}
	return &playbook, nil
}

// GetPlaybook implements PlaybookStore.GetPlaybook
func (s *SQLite) GetPlaybook(ctx context.Context, id string) (*model.Playbook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, inventory, created_at FROM playbooks WHERE id = ?`, id)
	return s.scanPlaybook(row)
}

// GetPlaybookByName implements PlaybookStore.GetPlaybookByName
func (s *SQLite) GetPlaybookByName(ctx context.Context, name string) (*model.Playbook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, inventory, created_at FROM playbooks WHERE name = ?`, name)
	return s.scanPlaybook(row)
}

// ListPlaybooks implements PlaybookStore.ListPlaybooks
func (s *SQLite) ListPlaybooks(ctx context.Context) ([]*model.Playbook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, inventory, created_at FROM playbooks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list playbooks: %w", err)
	}
	defer rows.Close()

	var playbooks []*model.Playbook
	for rows.Next() {
		playbook := &model.Playbook{}
		err := rows.Scan(
			&playbook.ID,
			&playbook.Name,
			&playbook.Path,
			&playbook.Inventory,
			&playbook.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playbook: %w", err)
		}
		playbooks = append(playbooks, playbook)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return playbooks, nil
}

// CountPlaybooks implements PlaybookStore.CountPlaybooks
func (s *SQLite) CountPlaybooks(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM playbooks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count playbooks: %w", err)
	}
	return count, nil
}

// UpdatePlaybookPath implements PlaybookStore.UpdatePlaybookPath
func (s *SQLite) UpdatePlaybookPath(ctx context.Context, id, path string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE playbooks SET path = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("failed to update playbook: %w", err)
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

// DeletePlaybook implements PlaybookStore.DeletePlaybook
func (s *SQLite) DeletePlaybook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM playbooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete playbook: %w", err)
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
