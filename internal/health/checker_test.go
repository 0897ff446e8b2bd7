package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/model"
	"github.com/t77yq/playbook-orchestrator/internal/testutil"
)

func TestChecker(t *testing.T) {
	store := testutil.SetupStorage(t)
	ctx := context.Background()

	checker := NewChecker(store, Config{DialTimeout: time.Second}, zap.NewNop())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	server := &model.Server{
		ID:        uuid.New().String(),
		Name:      "web-1",
		Address:   "127.0.0.1",
		SSHUser:   "deploy",
		SSHPort:   port,
		Status:    model.ServerStatusOffline,
		Provision: model.ProvisionStatusPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateServer(ctx, server))

	t.Run("Marks Reachable Server Online", func(t *testing.T) {
		require.NoError(t, checker.RefreshAll(ctx))

		got, err := store.GetServer(ctx, server.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ServerStatusOnline, got.Status)
	})

	t.Run("Marks Unreachable Server Offline", func(t *testing.T) {
		listener.Close()

		got, err := store.GetServer(ctx, server.ID)
		require.NoError(t, err)
		require.NoError(t, checker.Refresh(ctx, got))

		got, err = store.GetServer(ctx, server.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ServerStatusOffline, got.Status)
	})

	t.Run("No Write When Status Unchanged", func(t *testing.T) {
		got, err := store.GetServer(ctx, server.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ServerStatusOffline, got.Status)

		require.NoError(t, checker.Refresh(ctx, got))

		after, err := store.GetServer(ctx, server.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ServerStatusOffline, after.Status)
	})
}

func TestCheckerSchedule(t *testing.T) {
	store := testutil.SetupStorage(t)

	checker := NewChecker(store, Config{Schedule: "* * * * * *", DialTimeout: time.Second}, zap.NewNop())
	require.NoError(t, checker.Start(context.Background()))
	checker.Stop()
}

func TestCheckerRejectsBadSchedule(t *testing.T) {
	store := testutil.SetupStorage(t)

	checker := NewChecker(store, Config{Schedule: "not a schedule"}, zap.NewNop())
	err := checker.Start(context.Background())
	assert.Error(t, err)
}
