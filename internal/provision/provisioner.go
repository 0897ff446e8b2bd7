package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/t77yq/playbook-orchestrator/internal/model"
	"github.com/t77yq/playbook-orchestrator/internal/storage"
)

// Config defines configuration for the provisioner
type Config struct {
	// KeysDir is the directory where generated private keys live.
	KeysDir string

	// Timeout bounds the SSH dial and key installation.
	Timeout time.Duration
}

// Provisioner installs the orchestrator's public key on managed servers.
// The one-time password is used for a single attempt and discarded; only
// the generated key material is persisted. Provisioning status is mutated
// exclusively through this type.
type Provisioner struct {
	logger  *zap.Logger
	servers storage.ServerStore
	config  Config
}

// NewProvisioner creates a new provisioner
func NewProvisioner(servers storage.ServerStore, config Config, logger *zap.Logger) *Provisioner {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &Provisioner{
		logger:  logger.Named("provisioner"),
		servers: servers,
		config:  config,
	}
}

// Provision installs a fresh key pair on the server using the one-time
// password. Valid from pending or failed status; guarded against servers
// that are already deployed. On any failure the server is marked failed
// with the reason retained so the attempt can be retried.
func (p *Provisioner) Provision(ctx context.Context, serverID, password string) error {
	server, err := p.servers.GetServer(ctx, serverID)
	if err != nil {
		return err
	}

	if server.Provision == model.ProvisionStatusDeployed {
		return ErrAlreadyDeployed
	}

	pair, err := GenerateKeyPair(p.config.KeysDir, server.Name)
	if err != nil {
		return p.markFailed(ctx, server, fmt.Errorf("failed to generate key pair: %w", err))
	}

	if err := p.deployKey(ctx, server, password, pair.PublicKey); err != nil {
		return p.markFailed(ctx, server, err)
	}

	if err := p.servers.UpdateProvision(ctx, server.ID, model.ProvisionStatusDeployed, pair.PrivateKeyPath, ""); err != nil {
		return fmt.Errorf("failed to record deployed status: %w", err)
	}

	p.logger.Info("Server provisioned",
		zap.String("server_id", server.ID),
		zap.String("address", server.Address))

	return nil
}

// RetryProvision re-attempts provisioning after a failure, typically with
// a corrected password. Identical contract to Provision.
func (p *Provisioner) RetryProvision(ctx context.Context, serverID, password string) error {
	p.logger.Info("Retrying provisioning", zap.String("server_id", serverID))
	return p.Provision(ctx, serverID, password)
}

// markFailed records the failure reason and returns the original error.
func (p *Provisioner) markFailed(ctx context.Context, server *model.Server, cause error) error {
	if err := p.servers.UpdateProvision(ctx, server.ID, model.ProvisionStatusFailed, "", cause.Error()); err != nil {
		p.logger.Error("Failed to record provisioning failure",
			zap.String("server_id", server.ID),
			zap.Error(err))
	}

	p.logger.Warn("Provisioning failed",
		zap.String("server_id", server.ID),
		zap.String("address", server.Address),
		zap.Error(cause))

	return cause
}

// deployKey connects with the one-time password and appends the public
// key to the server's authorized_keys.
func (p *Provisioner) deployKey(ctx context.Context, server *model.Server, password, publicKey string) error {
	config := &ssh.ClientConfig{
		User: server.SSHUser,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
		},
		// Servers are registered by address before their host keys are
		// known, so first contact cannot verify them.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.config.Timeout,
	}

	addr := net.JoinHostPort(server.Address, fmt.Sprintf("%d", server.SSHPort))

	dialCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: p.config.Timeout}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	commands := []string{
		"mkdir -p ~/.ssh && chmod 700 ~/.ssh",
		fmt.Sprintf("echo %q >> ~/.ssh/authorized_keys && chmod 600 ~/.ssh/authorized_keys",
			strings.TrimSpace(publicKey)),
	}

	for _, command := range commands {
		if err := p.runCommand(client, command); err != nil {
			return err
		}
	}

	return nil
}

func (p *Provisioner) runCommand(client *ssh.Client, command string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: failed to open session: %v", ErrRemoteCommand, err)
	}
	defer session.Close()

	if output, err := session.CombinedOutput(command); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRemoteCommand, strings.TrimSpace(string(output)), err)
	}
	return nil
}

// IsRetryable reports whether a provisioning error leaves the server in a
// state where a retry with corrected input can succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrUnreachable) ||
		errors.Is(err, ErrRemoteCommand)
}
