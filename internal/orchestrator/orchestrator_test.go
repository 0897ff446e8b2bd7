package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/inventory"
	"github.com/t77yq/playbook-orchestrator/internal/model"
	"github.com/t77yq/playbook-orchestrator/internal/storage"
	"github.com/t77yq/playbook-orchestrator/internal/testutil"
)

type runnerCall struct {
	Host   string
	DryRun bool
}

// stubRunner records invocations and fails the hosts it is told to fail.
type stubRunner struct {
	mu    sync.Mutex
	calls []runnerCall
	fail  map[string]error
}

func (r *stubRunner) Run(ctx context.Context, playbookPath, inventoryPath, host string, dryRun bool) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, runnerCall{Host: host, DryRun: dryRun})
	r.mu.Unlock()

	if err, ok := r.fail[host]; ok {
		return []byte("fatal"), err
	}
	return []byte("ok: " + host), nil
}

func (r *stubRunner) Calls() []runnerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runnerCall(nil), r.calls...)
}

type fixture struct {
	store  *storage.SQLite
	runner *stubRunner
	orch   *Orchestrator
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store := testutil.SetupStorage(t)
	runner := &stubRunner{fail: make(map[string]error)}
	logger := zap.NewNop()
	orch := NewOrchestrator(store, store, store, inventory.NewBuilder(store, logger), runner, logger)

	return &fixture{store: store, runner: runner, orch: orch}
}

func (f *fixture) seedPlaybook(t *testing.T, name string) *model.Playbook {
	t.Helper()

	path := filepath.Join(t.TempDir(), name+".yml")
	require.NoError(t, os.WriteFile(path, []byte("- hosts: all\n"), 0o644))

	playbook := &model.Playbook{
		ID:        uuid.New().String(),
		Name:      name,
		Path:      path,
		Inventory: "dynamic",
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.CreatePlaybook(context.Background(), playbook))
	return playbook
}

func (f *fixture) seedServer(t *testing.T, name string, provision model.ProvisionStatus) *model.Server {
	t.Helper()

	server := &model.Server{
		ID:        uuid.New().String(),
		Name:      name,
		Address:   name + ".internal",
		SSHUser:   "deploy",
		SSHPort:   22,
		Status:    model.ServerStatusOnline,
		Provision: model.ProvisionStatusPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.CreateServer(context.Background(), server))

	if provision == model.ProvisionStatusDeployed {
		require.NoError(t, f.store.UpdateProvision(context.Background(),
			server.ID, provision, "/keys/"+name+"_id_rsa", ""))
	}
	return server
}

func (f *fixture) await(t *testing.T, executionID string) *model.Execution {
	t.Helper()

	f.orch.Wait()
	execution, err := f.store.GetExecution(context.Background(), executionID)
	require.NoError(t, err)
	return execution
}

func TestSubmitValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	playbook := f.seedPlaybook(t, "deploy")
	deployed := f.seedServer(t, "web-1", model.ProvisionStatusDeployed)
	pending := f.seedServer(t, "web-2", model.ProvisionStatusPending)

	t.Run("Empty Target Set", func(t *testing.T) {
		_, err := f.orch.Submit(ctx, playbook.ID, nil, "tester", false)
		assert.ErrorIs(t, err, ErrEmptyTargets)
	})

	t.Run("Unknown Playbook", func(t *testing.T) {
		_, err := f.orch.Submit(ctx, uuid.New().String(), []string{deployed.ID}, "tester", false)
		assert.ErrorIs(t, err, ErrPlaybookNotFound)
	})

	t.Run("Unknown Server", func(t *testing.T) {
		_, err := f.orch.Submit(ctx, playbook.ID, []string{uuid.New().String()}, "tester", false)
		assert.ErrorIs(t, err, ErrServerNotFound)
	})

	t.Run("Unprovisioned Target Rejected", func(t *testing.T) {
		_, err := f.orch.Submit(ctx, playbook.ID, []string{deployed.ID, pending.ID}, "tester", false)
		assert.ErrorIs(t, err, ErrNotProvisioned)
	})

	// Nothing was recorded for any rejected submission.
	count, err := f.store.CountExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("All Targets Succeed", func(t *testing.T) {
		f := setup(t)
		playbook := f.seedPlaybook(t, "deploy")
		first := f.seedServer(t, "web-1", model.ProvisionStatusDeployed)
		second := f.seedServer(t, "web-2", model.ProvisionStatusDeployed)

		id, err := f.orch.Submit(ctx, playbook.ID, []string{first.ID, second.ID}, "tester", false)
		require.NoError(t, err)

		execution := f.await(t, id)
		assert.Equal(t, model.ExecutionStateSuccess, execution.State)
		assert.Empty(t, execution.Error)
		require.NotNil(t, execution.StartedAt)
		require.NotNil(t, execution.CompletedAt)

		results, err := f.store.ListTargetResults(ctx, id)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.True(t, results[0].OK)
		assert.True(t, results[1].OK)
		assert.Equal(t, "ok: web-1", results[0].Output)

		calls := f.runner.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, "web-1", calls[0].Host)
		assert.Equal(t, "web-2", calls[1].Host)
		assert.False(t, calls[0].DryRun)
	})

	t.Run("Dry Run Never Enters Running", func(t *testing.T) {
		f := setup(t)
		playbook := f.seedPlaybook(t, "deploy")
		server := f.seedServer(t, "web-1", model.ProvisionStatusDeployed)

		id, err := f.orch.Submit(ctx, playbook.ID, []string{server.ID}, "tester", true)
		require.NoError(t, err)

		execution := f.await(t, id)
		assert.Equal(t, model.ExecutionStateSuccess, execution.State)
		assert.True(t, execution.DryRun)
		assert.Nil(t, execution.StartedAt)
		require.NotNil(t, execution.CompletedAt)

		calls := f.runner.Calls()
		require.Len(t, calls, 1)
		assert.True(t, calls[0].DryRun)
	})

	t.Run("Partial Failure Attempts Every Target", func(t *testing.T) {
		f := setup(t)
		playbook := f.seedPlaybook(t, "deploy")
		first := f.seedServer(t, "web-1", model.ProvisionStatusDeployed)
		second := f.seedServer(t, "web-2", model.ProvisionStatusDeployed)
		third := f.seedServer(t, "web-3", model.ProvisionStatusDeployed)
		f.runner.fail["web-2"] = errors.New("exit status 2")

		id, err := f.orch.Submit(ctx, playbook.ID, []string{first.ID, second.ID, third.ID}, "tester", false)
		require.NoError(t, err)

		execution := f.await(t, id)
		assert.Equal(t, model.ExecutionStateFailed, execution.State)
		assert.Equal(t, model.ErrorClassTarget, execution.ErrorClass)
		assert.Contains(t, execution.Error, "1 of 3 targets failed")
		assert.Contains(t, execution.Error, "web-2")

		results, err := f.store.ListTargetResults(ctx, id)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.True(t, results[0].OK)
		assert.False(t, results[1].OK)
		assert.Equal(t, "exit status 2", results[1].Error)
		assert.True(t, results[2].OK)

		assert.Len(t, f.runner.Calls(), 3)
	})

	t.Run("Missing Playbook File Is Infrastructure Failure", func(t *testing.T) {
		f := setup(t)
		playbook := f.seedPlaybook(t, "deploy")
		require.NoError(t, os.Remove(playbook.Path))
		server := f.seedServer(t, "web-1", model.ProvisionStatusDeployed)

		id, err := f.orch.Submit(ctx, playbook.ID, []string{server.ID}, "tester", false)
		require.NoError(t, err)

		execution := f.await(t, id)
		assert.Equal(t, model.ExecutionStateFailed, execution.State)
		assert.Equal(t, model.ErrorClassInfra, execution.ErrorClass)
		assert.Contains(t, execution.Error, "playbook file missing")

		assert.Empty(t, f.runner.Calls())
	})

	t.Run("Concurrent Submissions Are Independent", func(t *testing.T) {
		f := setup(t)
		playbook := f.seedPlaybook(t, "deploy")
		server := f.seedServer(t, "web-1", model.ProvisionStatusDeployed)

		ids := make([]string, 5)
		for i := range ids {
			id, err := f.orch.Submit(ctx, playbook.ID, []string{server.ID}, "tester", false)
			require.NoError(t, err)
			ids[i] = id
		}

		f.orch.Wait()
		for _, id := range ids {
			execution, err := f.store.GetExecution(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, model.ExecutionStateSuccess, execution.State)
		}
	})
}
