package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/model"
)

// ExecutionStore defines the interface for the execution ledger.
// Records are append-mostly: the only mutations are state transitions
// through UpdateExecutionState and per-target outcome writes. Executions
// are never deleted.
type ExecutionStore interface {
	// CreateExecution inserts a new execution with its target rows
	CreateExecution(ctx context.Context, execution *model.Execution) error

	// UpdateExecutionState transitions an execution to the next state.
	// The transition is validated against the state machine inside a
	// transaction, so a terminal record can never be reopened and two
	// concurrent transitions cannot race.
	UpdateExecutionState(ctx context.Context, id string, next model.ExecutionState, errClass model.ErrorClass, errMsg string) error

	// GetExecution retrieves an execution by ID
	GetExecution(ctx context.Context, id string) (*model.Execution, error)

	// ListExecutions retrieves all executions, newest first
	ListExecutions(ctx context.Context) ([]*model.Execution, error)

	// ListExecutionsByState retrieves executions filtered by state
	ListExecutionsByState(ctx context.Context, state model.ExecutionState) ([]*model.Execution, error)

	// ListExecutionsByPlaybook retrieves executions for a playbook
	ListExecutionsByPlaybook(ctx context.Context, playbookID string) ([]*model.Execution, error)

	// ListExecutionsByUser retrieves executions submitted by a user
	ListExecutionsByUser(ctx context.Context, userID string) ([]*model.Execution, error)

	// LatestExecutionForPlaybook retrieves the most recent execution of a playbook
	LatestExecutionForPlaybook(ctx context.Context, playbookID string) (*model.Execution, error)

	// CountExecutions returns the total number of executions
	CountExecutions(ctx context.Context) (int, error)

	// CountExecutionsByState returns the number of executions in a state
	CountExecutionsByState(ctx context.Context, state model.ExecutionState) (int, error)

	// CountExecutionsByPlaybook returns the number of executions of a playbook
	CountExecutionsByPlaybook(ctx context.Context, playbookID string) (int, error)

	// StoreTargetResult records the outcome of a single target
	StoreTargetResult(ctx context.Context, result *model.TargetResult) error

	// ListTargetResults retrieves per-target outcomes in selection order
	ListTargetResults(ctx context.Context, executionID string) ([]*model.TargetResult, error)
}

// validTransition encodes the execution state machine:
// dry -> running -> {success|failed}, with dry allowed to terminate
// directly when the run short-circuits before starting.
func validTransition(from, to model.ExecutionState) bool {
	switch from {
	case model.ExecutionStateDry:
		return to == model.ExecutionStateRunning ||
			to == model.ExecutionStateSuccess ||
			to == model.ExecutionStateFailed
	case model.ExecutionStateRunning:
		return to == model.ExecutionStateSuccess || to == model.ExecutionStateFailed
	}
	return false
}

// CreateExecution implements ExecutionStore.CreateExecution
func (s *SQLite) CreateExecution(ctx context.Context, execution *model.Execution) error {
	serverIDs, err := json.Marshal(execution.ServerIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal server ids: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (
			id, playbook_id, user_id, server_ids, dry_run, state, submitted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		execution.ID,
		execution.PlaybookID,
		execution.UserID,
		string(serverIDs),
		execution.DryRun,
		execution.State,
		execution.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store execution: %w", err)
	}

	// Target rows keep the caller's selection order via position.
	for i, serverID := range execution.ServerIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO execution_targets (execution_id, server_id, position)
			VALUES (?, ?, ?)`,
			execution.ID, serverID, i,
		)
		if err != nil {
			return fmt.Errorf("failed to store execution target: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution: %w", err)
	}
	return nil
}

// UpdateExecutionState implements ExecutionStore.UpdateExecutionState
func (s *SQLite) UpdateExecutionState(ctx context.Context, id string, next model.ExecutionState, errClass model.ErrorClass, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current model.ExecutionState
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM executions WHERE id = ?`, id).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read execution state: %w", err)
	}

	if current.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, current)
	}
	if !validTransition(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	now := time.Now()
	var startedAt, completedAt sql.NullTime
	if next == model.ExecutionStateRunning {
		startedAt = sql.NullTime{Time: now, Valid: true}
	}
	if next.Terminal() {
		completedAt = sql.NullTime{Time: now, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE executions SET
			state = ?,
			error_class = COALESCE(?, error_class),
			error = COALESCE(?, error),
			started_at = COALESCE(?, started_at),
			completed_at = COALESCE(?, completed_at)
		WHERE id = ?`,
		next,
		sql.NullString{String: string(errClass), Valid: errClass != ""},
		sql.NullString{String: errMsg, Valid: errMsg != ""},
		startedAt,
		completedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state transition: %w", err)
	}

	s.logger.Info("Execution state transition",
		zap.String("execution_id", id),
		zap.String("from", string(current)),
		zap.String("to", string(next)))

	return nil
}

const executionColumns = `id, playbook_id, user_id, server_ids, dry_run, state, error_class, error, submitted_at, started_at, completed_at`

func scanExecution(scan func(dest ...interface{}) error) (*model.Execution, error) {
	var execution model.Execution
	var serverIDs string
	var errClass, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := scan(
		&execution.ID,
		&execution.PlaybookID,
		&execution.UserID,
		&serverIDs,
		&execution.DryRun,
		&execution.State,
		&errClass,
		&errMsg,
		&execution.SubmittedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	if err := json.Unmarshal([]byte(serverIDs), &execution.ServerIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server ids: %w", err)
	}
	if errClass.Valid {
		execution.ErrorClass = model.ErrorClass(errClass.String)
	}
	if errMsg.Valid {
		execution.Error = errMsg.String
	}
	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	return &execution, nil
}

// GetExecution implements ExecutionStore.GetExecution
func (s *SQLite) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	return scanExecution(row.Scan)
}

func (s *SQLite) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]*model.Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		execution, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return executions, nil
}

// ListExecutions implements ExecutionStore.ListExecutions
func (s *SQLite) ListExecutions(ctx context.Context) ([]*model.Execution, error) {
	return s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY submitted_at DESC`)
}

// ListExecutionsByState implements ExecutionStore.ListExecutionsByState
func (s *SQLite) ListExecutionsByState(ctx context.Context, state model.ExecutionState) ([]*model.Execution, error) {
	return s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE state = ? ORDER BY submitted_at DESC`, state)
}

// ListExecutionsByPlaybook implements ExecutionStore.ListExecutionsByPlaybook
func (s *SQLite) ListExecutionsByPlaybook(ctx context.Context, playbookID string) ([]*model.Execution, error) {
	return s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE playbook_id = ? ORDER BY submitted_at DESC`, playbookID)
}

// ListExecutionsByUser implements ExecutionStore.ListExecutionsByUser
func (s *SQLite) ListExecutionsByUser(ctx context.Context, userID string) ([]*model.Execution, error) {
	return s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE user_id = ? ORDER BY submitted_at DESC`, userID)
}

// LatestExecutionForPlaybook implements ExecutionStore.LatestExecutionForPlaybook
func (s *SQLite) LatestExecutionForPlaybook(ctx context.Context, playbookID string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE playbook_id = ? ORDER BY submitted_at DESC LIMIT 1`, playbookID)
	return scanExecution(row.Scan)
}

// CountExecutions implements ExecutionStore.CountExecutions
func (s *SQLite) CountExecutions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

// CountExecutionsByState implements ExecutionStore.CountExecutionsByState
func (s *SQLite) CountExecutionsByState(ctx context.Context, state model.ExecutionState) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions WHERE state = ?`, state).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

// CountExecutionsByPlaybook implements ExecutionStore.CountExecutionsByPlaybook
func (s *SQLite) CountExecutionsByPlaybook(ctx context.Context, playbookID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM executions WHERE playbook_id = ?`, playbookID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

// StoreTargetResult implements ExecutionStore.StoreTargetResult
func (s *SQLite) StoreTargetResult(ctx context.Context, result *model.TargetResult) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_targets SET
			ok = ?,
			output = ?,
			error = ?,
			started_at = ?,
			completed_at = ?
		WHERE execution_id = ? AND server_id = ?`,
		result.OK,
		sql.NullString{String: result.Output, Valid: result.Output != ""},
		sql.NullString{String: result.Error, Valid: result.Error != ""},
		result.StartedAt,
		sql.NullTime{Time: derefTime(result.CompletedAt), Valid: result.CompletedAt != nil},
		result.ExecutionID,
		result.ServerID,
	)
	if err != nil {
		return fmt.Errorf("failed to store target result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// ListTargetResults implements ExecutionStore.ListTargetResults
func (s *SQLite) ListTargetResults(ctx context.Context, executionID string) ([]*model.TargetResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, server_id, ok, output, error, started_at, completed_at
		FROM execution_targets
		WHERE execution_id = ?
		ORDER BY position`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list target results: %w", err)
	}
	defer rows.Close()

	var results []*model.TargetResult
	for rows.Next() {
		result := &model.TargetResult{}
		var ok sql.NullBool
		var output, errMsg sql.NullString
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&result.ExecutionID,
			&result.ServerID,
			&ok,
			&output,
			&errMsg,
			&startedAt,
			&completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target result: %w", err)
		}

		result.OK = ok.Valid && ok.Bool
		if output.Valid {
			result.Output = output.String
		}
		if errMsg.Valid {
			result.Error = errMsg.String
		}
		if startedAt.Valid {
			result.StartedAt = startedAt.Time
		}
		if completedAt.Valid {
			result.CompletedAt = &completedAt.Time
		}

		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return results, nil
}
