package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateName is returned when a unique name is already taken
	ErrDuplicateName = errors.New("name already exists")

	// ErrDuplicateAddress is returned when a server address is already registered
	ErrDuplicateAddress = errors.New("address already in use")

	// ErrInvalidTransition is returned when an execution state change
	// does not follow the state machine
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalState is returned when mutating an execution that has
	// already reached success or failed
	ErrTerminalState = errors.New("execution is in a terminal state")
)
