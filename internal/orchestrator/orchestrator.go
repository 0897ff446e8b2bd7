package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/inventory"
	"github.com/t77yq/playbook-orchestrator/internal/model"
	"github.com/t77yq/playbook-orchestrator/internal/storage"
)

// Orchestrator runs playbooks against sets of servers and tracks each
// run through its state machine. Submissions return immediately; callers
// observe progress by reading the execution record.
type Orchestrator struct {
	logger     *zap.Logger
	playbooks  storage.PlaybookStore
	servers    storage.ServerStore
	executions storage.ExecutionStore
	inventory  *inventory.Builder
	runner     Runner

	wg sync.WaitGroup
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	playbooks storage.PlaybookStore,
	servers storage.ServerStore,
	executions storage.ExecutionStore,
	builder *inventory.Builder,
	runner Runner,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		logger:     logger.Named("orchestrator"),
		playbooks:  playbooks,
		servers:    servers,
		executions: executions,
		inventory:  builder,
		runner:     runner,
	}
}

// Submit validates the request, records a new execution and starts the
// run in the background. The returned id is available immediately; the
// run itself survives client disconnects.
func (o *Orchestrator) Submit(ctx context.Context, playbookID string, serverIDs []string, userID string, dryRun bool) (string, error) {
	if len(serverIDs) == 0 {
		return "", ErrEmptyTargets
	}

	playbook, err := o.playbooks.GetPlaybook(ctx, playbookID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrPlaybookNotFound, playbookID)
		}
		return "", err
	}

	// Every target must exist and be provisioned before anything is
	// created. Unprovisioned targets are rejected, not skipped.
	for _, id := range serverIDs {
		server, err := o.servers.GetServer(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", fmt.Errorf("%w: %s", ErrServerNotFound, id)
			}
			return "", err
		}
		if server.Provision != model.ProvisionStatusDeployed {
			return "", fmt.Errorf("%w: %s (%s)", ErrNotProvisioned, server.Name, server.Provision)
		}
	}

	execution := &model.Execution{
		ID:          uuid.New().String(),
		PlaybookID:  playbook.ID,
		UserID:      userID,
		ServerIDs:   serverIDs,
		DryRun:      dryRun,
		State:       model.ExecutionStateDry,
		SubmittedAt: time.Now(),
	}

	if err := o.executions.CreateExecution(ctx, execution); err != nil {
		return "", fmt.Errorf("failed to create execution: %w", err)
	}

	o.logger.Info("Execution submitted",
		zap.String("execution_id", execution.ID),
		zap.String("playbook_id", playbook.ID),
		zap.Int("targets", len(serverIDs)),
		zap.Bool("dry_run", dryRun))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// Detached from the caller's context: the run must survive
		// client disconnects.
		o.run(context.Background(), execution, playbook)
	}()

	return execution.ID, nil
}

// Wait blocks until all in-flight runs complete. Used during shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run executes the playbook against every target and records the outcome.
func (o *Orchestrator) run(ctx context.Context, execution *model.Execution, playbook *model.Playbook) {
	// Infrastructure checks short-circuit before any target is attempted.
	if _, err := os.Stat(playbook.Path); err != nil {
		o.failInfra(ctx, execution.ID, fmt.Errorf("playbook file missing: %w", err))
		return
	}

	inv, err := o.inventory.Build(ctx, execution.ServerIDs)
	if err != nil {
		o.failInfra(ctx, execution.ID, fmt.Errorf("inventory build failed: %w", err))
		return
	}

	inventoryPath, err := inv.WriteFile()
	if err != nil {
		o.failInfra(ctx, execution.ID, err)
		return
	}
	defer os.Remove(inventoryPath)

	// Dry runs stay in state dry while checking; real runs transition
	// to running first.
	if !execution.DryRun {
		if err := o.executions.UpdateExecutionState(ctx, execution.ID, model.ExecutionStateRunning, "", ""); err != nil {
			o.logger.Error("Failed to mark execution running",
				zap.String("execution_id", execution.ID),
				zap.Error(err))
			return
		}
	}

	// All targets are attempted; a failure on one never aborts the rest.
	var failedHosts []string
	for i, serverID := range execution.ServerIDs {
		host := inv.Order[i]
		result := &model.TargetResult{
			ExecutionID: execution.ID,
			ServerID:    serverID,
			StartedAt:   time.Now(),
		}

		output, err := o.runner.Run(ctx, playbook.Path, inventoryPath, host, execution.DryRun)
		completed := time.Now()
		result.CompletedAt = &completed
		result.Output = string(output)

		if err != nil {
			result.Error = err.Error()
			failedHosts = append(failedHosts, host)
			o.logger.Warn("Target failed",
				zap.String("execution_id", execution.ID),
				zap.String("host", host),
				zap.Error(err))
		} else {
			result.OK = true
		}

		if err := o.executions.StoreTargetResult(ctx, result); err != nil {
			o.logger.Error("Failed to store target result",
				zap.String("execution_id", execution.ID),
				zap.String("host", host),
				zap.Error(err))
		}
	}

	// Aggregate state: success iff every target succeeded.
	if len(failedHosts) > 0 {
		msg := fmt.Sprintf("%d of %d targets failed: %s",
			len(failedHosts), len(execution.ServerIDs), strings.Join(failedHosts, ", "))
		o.transition(ctx, execution.ID, model.ExecutionStateFailed, model.ErrorClassTarget, msg)
		return
	}

	o.transition(ctx, execution.ID, model.ExecutionStateSuccess, "", "")
}

// failInfra marks an execution failed before any target was attempted.
func (o *Orchestrator) failInfra(ctx context.Context, executionID string, cause error) {
	o.logger.Error("Execution failed before start",
		zap.String("execution_id", executionID),
		zap.Error(cause))
	o.transition(ctx, executionID, model.ExecutionStateFailed, model.ErrorClassInfra, cause.Error())
}

func (o *Orchestrator) transition(ctx context.Context, executionID string, state model.ExecutionState, class model.ErrorClass, msg string) {
	if err := o.executions.UpdateExecutionState(ctx, executionID, state, class, msg); err != nil {
		o.logger.Error("Failed to record execution state",
			zap.String("execution_id", executionID),
			zap.String("state", string(state)),
			zap.Error(err))
	}
}
