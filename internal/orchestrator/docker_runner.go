package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// DockerRunnerConfig defines configuration for the containerized runner
type DockerRunnerConfig struct {
	// Image is the ansible image used for runs.
	Image string

	// KeysDir is mounted read-only so runs can use the provisioned keys.
	KeysDir string

	// PlaybooksDir is mounted read-only at the same path inside the
	// container, so stored playbook paths resolve unchanged.
	PlaybooksDir string

	// Timeout bounds a single target run.
	Timeout time.Duration
}

// DockerRunner executes ansible-playbook inside a container, isolating
// runs from the orchestrator host.
type DockerRunner struct {
	logger *zap.Logger
	docker *client.Client
	config DockerRunnerConfig
}

// NewDockerRunner creates a new container-based runner
func NewDockerRunner(config DockerRunnerConfig, logger *zap.Logger) (*DockerRunner, error) {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if config.Image == "" {
		config.Image = "willhallonline/ansible:latest"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Minute
	}

	return &DockerRunner{
		logger: logger.Named("docker-runner"),
		docker: docker,
		config: config,
	}, nil
}

// Run implements Runner.Run
func (r *DockerRunner) Run(ctx context.Context, playbookPath, inventoryPath, host string, dryRun bool) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	args := []string{"ansible-playbook", "-i", inventoryPath, "--limit", host}
	if dryRun {
		args = append(args, "--check")
	}
	args = append(args, playbookPath)

	binds := []string{
		fmt.Sprintf("%s:%s:ro", r.config.PlaybooksDir, r.config.PlaybooksDir),
		fmt.Sprintf("%s:%s:ro", r.config.KeysDir, r.config.KeysDir),
		fmt.Sprintf("%s:%s:ro", inventoryPath, inventoryPath),
	}

	created, err := r.docker.ContainerCreate(runCtx,
		&container.Config{
			Image: r.config.Image,
			Cmd:   args,
		},
		&container.HostConfig{
			Binds:       binds,
			NetworkMode: "host",
			AutoRemove:  false,
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer r.docker.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})

	if err := r.docker.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	r.logger.Info("Running playbook in container",
		zap.String("container_id", created.ID[:12]),
		zap.String("host", host),
		zap.Bool("dry_run", dryRun))

	statusCh, errCh := r.docker.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("failed to wait for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-runCtx.Done():
		return nil, fmt.Errorf("playbook run timed out after %s", r.config.Timeout)
	}

	output, err := r.containerOutput(created.ID)
	if err != nil {
		r.logger.Warn("Failed to collect container output", zap.Error(err))
	}

	if exitCode != 0 {
		return output, fmt.Errorf("playbook run failed: exit code %d", exitCode)
	}

	return output, nil
}

func (r *DockerRunner) containerOutput(containerID string) ([]byte, error) {
	reader, err := r.docker.ContainerLogs(context.Background(), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return nil, fmt.Errorf("failed to read container logs: %w", err)
	}
	return buf.Bytes(), nil
}
