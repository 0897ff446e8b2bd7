package model

import (
	"time"
)

// ProvisionStatus represents the SSH key deployment state of a server
type ProvisionStatus string

const (
	ProvisionStatusPending  ProvisionStatus = "pending"
	ProvisionStatusDeployed ProvisionStatus = "deployed"
	ProvisionStatusFailed   ProvisionStatus = "failed"
)

// ServerStatus represents the reachability of a server
type ServerStatus string

const (
	ServerStatusOnline  ServerStatus = "online"
	ServerStatusOffline ServerStatus = "offline"
)

// Server represents a managed remote host
type Server struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Address   string          `json:"address"`
	SSHUser   string          `json:"ssh_user"`
	SSHPort   int             `json:"ssh_port"`
	Status    ServerStatus    `json:"status"`
	Provision ProvisionStatus `json:"provision_status"`

	// Path to the private key installed by the provisioner. Empty until
	// provisioning succeeds. The one-time password is never stored.
	KeyPath string `json:"key_path,omitempty"`

	// Reason for the last provisioning failure, kept so a retry can be
	// attempted with corrected credentials.
	ProvisionError string `json:"provision_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
