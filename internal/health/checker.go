package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/model"
	"github.com/t77yq/playbook-orchestrator/internal/storage"
)

// Config defines configuration for the health checker
type Config struct {
	// Schedule is a cron expression (with seconds) for periodic sweeps.
	Schedule string

	// DialTimeout bounds a single reachability probe.
	DialTimeout time.Duration
}

// Checker refreshes server online/offline status by probing the SSH
// port. It is the only writer of that status field.
type Checker struct {
	logger  *zap.Logger
	servers storage.ServerStore
	config  Config
	cron    *cron.Cron
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewChecker creates a new health checker
func NewChecker(servers storage.ServerStore, config Config, logger *zap.Logger) *Checker {
	if config.Schedule == "" {
		config.Schedule = "*/30 * * * * *"
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 3 * time.Second
	}

	named := logger.Named("health")
	cronOptions := []cron.Option{
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(&cronLogger{logger: named.Named("cron")})),
	}

	return &Checker{
		logger:  named,
		servers: servers,
		config:  config,
		cron:    cron.New(cronOptions...),
	}
}

// Start schedules the periodic sweep
func (c *Checker) Start(ctx context.Context) error {
	_, err := c.cron.AddFunc(c.config.Schedule, func() {
		if err := c.RefreshAll(ctx); err != nil {
			c.logger.Error("Health sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule health sweep: %w", err)
	}

	c.cron.Start()
	c.logger.Info("Health checker started", zap.String("schedule", c.config.Schedule))
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish
func (c *Checker) Stop() {
	stopCtx := c.cron.Stop()
	<-stopCtx.Done()
}

// RefreshAll probes every registered server and records status changes.
func (c *Checker) RefreshAll(ctx context.Context) error {
	servers, err := c.servers.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}

	for _, server := range servers {
		if err := c.Refresh(ctx, server); err != nil {
			c.logger.Error("Failed to refresh server status",
				zap.String("server_id", server.ID),
				zap.Error(err))
		}
	}

	return nil
}

// Refresh probes one server and persists the result if it changed.
func (c *Checker) Refresh(ctx context.Context, server *model.Server) error {
	status := model.ServerStatusOffline
	if c.probe(server.Address, server.SSHPort) {
		status = model.ServerStatusOnline
	}

	if status == server.Status {
		return nil
	}

	c.logger.Info("Server status changed",
		zap.String("server_id", server.ID),
		zap.String("from", string(server.Status)),
		zap.String("to", string(status)))

	return c.servers.UpdateStatus(ctx, server.ID, status)
}

// probe attempts a TCP connection to the server's SSH port.
func (c *Checker) probe(address string, port int) bool {
	conn, err := net.DialTimeout("tcp",
		net.JoinHostPort(address, fmt.Sprintf("%d", port)), c.config.DialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
