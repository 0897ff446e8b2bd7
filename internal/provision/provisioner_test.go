package provision

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/model"
	"github.com/t77yq/playbook-orchestrator/internal/testutil"
)

func TestGenerateKeyPair(t *testing.T) {
	dir := t.TempDir()

	pair, err := GenerateKeyPair(dir, "web-1")
	require.NoError(t, err)

	info, err := os.Stat(pair.PrivateKeyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	private, err := os.ReadFile(pair.PrivateKeyPath)
	require.NoError(t, err)
	assert.Contains(t, string(private), "RSA PRIVATE KEY")

	assert.True(t, strings.HasPrefix(pair.PublicKey, "ssh-rsa "))

	public, err := os.ReadFile(pair.PrivateKeyPath + ".pub")
	require.NoError(t, err)
	assert.Equal(t, pair.PublicKey, string(public))
}

func TestProvisioner(t *testing.T) {
	store := testutil.SetupStorage(t)
	sshd := testutil.StartSSHServer(t, "deploy", "one-time-secret")
	ctx := context.Background()

	provisioner := NewProvisioner(store, Config{
		KeysDir: t.TempDir(),
		Timeout: 5 * time.Second,
	}, zap.NewNop())

	registerServer := func(t *testing.T, name string) *model.Server {
		server := &model.Server{
			ID:        uuid.New().String(),
			Name:      name,
			Address:   sshd.Addr,
			SSHUser:   "deploy",
			SSHPort:   sshd.Port,
			Status:    model.ServerStatusOffline,
			Provision: model.ProvisionStatusPending,
			CreatedAt: time.Now(),
		}
		require.NoError(t, store.CreateServer(ctx, server))
		return server
	}

	t.Run("Successful Deployment", func(t *testing.T) {
		server := registerServer(t, "web-1")

		require.NoError(t, provisioner.Provision(ctx, server.ID, "one-time-secret"))

		got, err := store.GetServer(ctx, server.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ProvisionStatusDeployed, got.Provision)
		assert.NotEmpty(t, got.KeyPath)
		assert.Empty(t, got.ProvisionError)

		_, err = os.Stat(got.KeyPath)
		require.NoError(t, err)

		commands := sshd.Commands()
		require.Len(t, commands, 2)
		assert.Contains(t, commands[0], "mkdir -p ~/.ssh")
		assert.Contains(t, commands[1], "authorized_keys")
		assert.Contains(t, commands[1], "ssh-rsa")
	})

	t.Run("Already Deployed Guard", func(t *testing.T) {
		server := registerServer(t, "web-2")
		require.NoError(t, provisioner.Provision(ctx, server.ID, "one-time-secret"))

		err := provisioner.Provision(ctx, server.ID, "one-time-secret")
		assert.ErrorIs(t, err, ErrAlreadyDeployed)
	})

	t.Run("Wrong Password Then Retry", func(t *testing.T) {
		server := registerServer(t, "web-3")

		err := provisioner.Provision(ctx, server.ID, "wrong")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthFailed)
		assert.True(t, IsRetryable(err))

		got, err := store.GetServer(ctx, server.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ProvisionStatusFailed, got.Provision)
		assert.NotEmpty(t, got.ProvisionError)

		require.NoError(t, provisioner.RetryProvision(ctx, server.ID, "one-time-secret"))

		got, err = store.GetServer(ctx, server.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ProvisionStatusDeployed, got.Provision)
		assert.Empty(t, got.ProvisionError)
	})

	t.Run("Unreachable Host", func(t *testing.T) {
		server := &model.Server{
			ID:        uuid.New().String(),
			Name:      "web-4",
			Address:   "127.0.0.1",
			SSHUser:   "deploy",
			SSHPort:   1, // nothing listens here
			Status:    model.ServerStatusOffline,
			Provision: model.ProvisionStatusPending,
			CreatedAt: time.Now(),
		}
		require.NoError(t, store.CreateServer(ctx, server))

		err := provisioner.Provision(ctx, server.ID, "one-time-secret")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnreachable)
		assert.True(t, IsRetryable(err))

		got, err := store.GetServer(ctx, server.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ProvisionStatusFailed, got.Provision)
	})
}
