package model

import (
	"time"
)

// ExecutionState represents the lifecycle state of a playbook run
type ExecutionState string

const (
	// ExecutionStateDry is the initial state. It doubles as the queued
	// marker for non-dry runs between submission and start.
	ExecutionStateDry     ExecutionState = "dry"
	ExecutionStateRunning ExecutionState = "running"
	ExecutionStateSuccess ExecutionState = "success"
	ExecutionStateFailed  ExecutionState = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ExecutionState) Terminal() bool {
	return s == ExecutionStateSuccess || s == ExecutionStateFailed
}

// ErrorClass distinguishes how an execution failed
type ErrorClass string

const (
	// ErrorClassInfra marks failures before any target was attempted:
	// missing playbook file, inventory build error, engine unreachable.
	ErrorClassInfra ErrorClass = "infrastructure"

	// ErrorClassTarget marks failures of one or more individual targets.
	ErrorClassTarget ErrorClass = "target"
)

// Execution represents one invocation of a playbook against a set of servers
type Execution struct {
	ID         string         `json:"id"`
	PlaybookID string         `json:"playbook_id"`
	UserID     string         `json:"user_id"`
	ServerIDs  []string       `json:"server_ids"`
	DryRun     bool           `json:"dry_run"`
	State      ExecutionState `json:"state"`

	// Set only when State is failed.
	ErrorClass ErrorClass `json:"error_class,omitempty"`
	Error      string     `json:"error,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TargetResult represents the outcome of a single target within an execution
type TargetResult struct {
	ExecutionID string     `json:"execution_id"`
	ServerID    string     `json:"server_id"`
	OK          bool       `json:"ok"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
