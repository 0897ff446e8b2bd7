package orchestrator

import "errors"

var (
	// ErrEmptyTargets is returned when a run is submitted with no servers
	ErrEmptyTargets = errors.New("target server set is empty")

	// ErrPlaybookNotFound is returned when the playbook id is unknown
	ErrPlaybookNotFound = errors.New("playbook not found")

	// ErrServerNotFound is returned when a target server id is unknown
	ErrServerNotFound = errors.New("server not found")

	// ErrNotProvisioned is returned when a target server has no deployed
	// key. Distinct from ErrServerNotFound so callers can suggest
	// provisioning instead of picking different servers.
	ErrNotProvisioned = errors.New("target server not provisioned")
)
