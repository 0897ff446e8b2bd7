package provision

import "errors"

var (
	// ErrAlreadyDeployed is returned when provisioning is attempted on a
	// server whose key is already installed. Re-deploying would clobber
	// a working key, so this is a guard error, not a silent no-op.
	ErrAlreadyDeployed = errors.New("server already provisioned")

	// ErrAuthFailed is returned when the one-time password is rejected
	ErrAuthFailed = errors.New("ssh authentication failed")

	// ErrUnreachable is returned when the server cannot be reached
	// within the configured timeout
	ErrUnreachable = errors.New("server unreachable")

	// ErrRemoteCommand is returned when key installation fails on the
	// remote side
	ErrRemoteCommand = errors.New("remote command failed")
)
