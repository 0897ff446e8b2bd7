package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Runner invokes the automation engine against one target host of a
// prepared inventory. Implementations must honor the context deadline.
type Runner interface {
	Run(ctx context.Context, playbookPath, inventoryPath, host string, dryRun bool) ([]byte, error)
}

// AnsibleRunner runs ansible-playbook as a subprocess.
type AnsibleRunner struct {
	logger *zap.Logger

	// Binary overrides the ansible-playbook executable, mainly for tests.
	Binary string

	// Timeout bounds a single target run.
	Timeout time.Duration
}

// NewAnsibleRunner creates a new subprocess-based runner
func NewAnsibleRunner(timeout time.Duration, logger *zap.Logger) *AnsibleRunner {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &AnsibleRunner{
		logger:  logger.Named("ansible-runner"),
		Binary:  "ansible-playbook",
		Timeout: timeout,
	}
}

// Run implements Runner.Run
func (r *AnsibleRunner) Run(ctx context.Context, playbookPath, inventoryPath, host string, dryRun bool) ([]byte, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := []string{"-i", inventoryPath, "--limit", host}
	if dryRun {
		args = append(args, "--check")
	}
	args = append(args, playbookPath)

	cmd := exec.CommandContext(cmdCtx, r.Binary, args...)

	r.logger.Info("Running playbook against target",
		zap.String("playbook", playbookPath),
		zap.String("host", host),
		zap.Bool("dry_run", dryRun))

	output, err := cmd.CombinedOutput()
	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("playbook run timed out after %s", r.Timeout)
		}
		return output, fmt.Errorf("playbook run failed: %s", strings.TrimSpace(firstLine(string(output))))
	}

	return output, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
