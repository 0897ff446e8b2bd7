package inventory

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/model"
	"github.com/t77yq/playbook-orchestrator/internal/storage"
	"github.com/t77yq/playbook-orchestrator/internal/testutil"
)

func seedServer(t *testing.T, store *storage.SQLite, name string, provision model.ProvisionStatus) *model.Server {
	t.Helper()

	server := &model.Server{
		ID:        uuid.New().String(),
		Name:      name,
		Address:   name + ".internal",
		SSHUser:   "deploy",
		SSHPort:   2222,
		Status:    model.ServerStatusOnline,
		Provision: provision,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateServer(context.Background(), server))

	if provision == model.ProvisionStatusDeployed {
		require.NoError(t, store.UpdateProvision(context.Background(),
			server.ID, provision, "/keys/"+name+"_id_rsa", ""))
		server.KeyPath = "/keys/" + name + "_id_rsa"
	}
	return server
}

func TestBuilder(t *testing.T) {
	store := testutil.SetupStorage(t)
	builder := NewBuilder(store, zap.NewNop())
	ctx := context.Background()

	t.Run("Resolves Current Server State", func(t *testing.T) {
		first := seedServer(t, store, "web-1", model.ProvisionStatusDeployed)
		second := seedServer(t, store, "web-2", model.ProvisionStatusDeployed)

		inv, err := builder.Build(ctx, []string{second.ID, first.ID})
		require.NoError(t, err)

		assert.Equal(t, []string{"web-2", "web-1"}, inv.Order)
		require.Len(t, inv.All.Hosts, 2)

		host := inv.All.Hosts["web-1"]
		assert.Equal(t, first.Address, host.AnsibleHost)
		assert.Equal(t, "deploy", host.AnsibleUser)
		assert.Equal(t, 2222, host.AnsiblePort)
		assert.Equal(t, first.KeyPath, host.AnsibleSSHPrivateKeyFile)
	})

	t.Run("Fails Fast On Unprovisioned Target", func(t *testing.T) {
		deployed := seedServer(t, store, "db-1", model.ProvisionStatusDeployed)
		pending := seedServer(t, store, "db-2", model.ProvisionStatusPending)

		_, err := builder.Build(ctx, []string{deployed.ID, pending.ID})
		assert.ErrorIs(t, err, ErrNotProvisioned)
	})

	t.Run("Fails On Unknown Server", func(t *testing.T) {
		_, err := builder.Build(ctx, []string{uuid.New().String()})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestInventoryWriteFile(t *testing.T) {
	inv := &Inventory{}
	inv.All.Hosts = map[string]Host{
		"web-1": {
			AnsibleHost:              "10.0.0.1",
			AnsibleUser:              "deploy",
			AnsiblePort:              22,
			AnsibleSSHPrivateKeyFile: "/keys/web-1_id_rsa",
		},
	}

	path, err := inv.WriteFile()
	require.NoError(t, err)
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]map[string]map[string]Host
	require.NoError(t, json.Unmarshal(data, &decoded))

	host, ok := decoded["all"]["hosts"]["web-1"]
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", host.AnsibleHost)
	assert.Equal(t, "/keys/web-1_id_rsa", host.AnsibleSSHPrivateKeyFile)
}
