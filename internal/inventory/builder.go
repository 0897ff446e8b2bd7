package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/model"
	"github.com/t77yq/playbook-orchestrator/internal/storage"
)

// ErrNotProvisioned is returned when a target server has no deployed key
var ErrNotProvisioned = errors.New("server not provisioned")

// Host holds the connection parameters for one target.
type Host struct {
	AnsibleHost              string `json:"ansible_host"`
	AnsibleUser              string `json:"ansible_user"`
	AnsiblePort              int    `json:"ansible_port,omitempty"`
	AnsibleSSHPrivateKeyFile string `json:"ansible_ssh_private_key_file"`
}

// Inventory is the resolved per-run target list in Ansible's dynamic
// inventory shape. It is regenerated for every run and never persisted,
// so credential rotation and server edits are picked up automatically.
type Inventory struct {
	All struct {
		Hosts map[string]Host `json:"hosts"`
	} `json:"all"`

	// Order preserves the caller's selection order; hosts in the JSON
	// map above are unordered.
	Order []string `json:"-"`
}

// Builder resolves server ids into connection-ready inventories.
type Builder struct {
	logger  *zap.Logger
	servers storage.ServerStore
}

// NewBuilder creates a new inventory builder
func NewBuilder(servers storage.ServerStore, logger *zap.Logger) *Builder {
	return &Builder{
		logger:  logger.Named("inventory"),
		servers: servers,
	}
}

// Build resolves the current address, SSH user and key path for each id.
// It fails fast if any server is unknown or not deployed.
func (b *Builder) Build(ctx context.Context, serverIDs []string) (*Inventory, error) {
	inv := &Inventory{}
	inv.All.Hosts = make(map[string]Host, len(serverIDs))

	for _, id := range serverIDs {
		server, err := b.servers.GetServer(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve server %s: %w", id, err)
		}

		if server.Provision != model.ProvisionStatusDeployed {
			return nil, fmt.Errorf("%w: %s (%s)", ErrNotProvisioned, server.Name, server.Provision)
		}

		inv.All.Hosts[server.Name] = Host{
			AnsibleHost:              server.Address,
			AnsibleUser:              server.SSHUser,
			AnsiblePort:              server.SSHPort,
			AnsibleSSHPrivateKeyFile: server.KeyPath,
		}
		inv.Order = append(inv.Order, server.Name)
	}

	b.logger.Debug("Built inventory", zap.Int("hosts", len(inv.All.Hosts)))

	return inv, nil
}

// WriteFile materializes the inventory to a temporary JSON file for the
// automation engine. The caller removes it when the run completes.
func (inv *Inventory) WriteFile() (string, error) {
	data, err := json.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("failed to marshal inventory: %w", err)
	}

	file, err := os.CreateTemp("", "inventory-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create inventory file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write inventory file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to close inventory file: %w", err)
	}

	return file.Name(), nil
}
