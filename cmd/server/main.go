package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/api"
	"github.com/t77yq/playbook-orchestrator/internal/health"
	"github.com/t77yq/playbook-orchestrator/internal/inventory"
	"github.com/t77yq/playbook-orchestrator/internal/monitor"
	"github.com/t77yq/playbook-orchestrator/internal/orchestrator"
	"github.com/t77yq/playbook-orchestrator/internal/provision"
	"github.com/t77yq/playbook-orchestrator/internal/storage"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("storage.path", "orchestrator.db")
	viper.SetDefault("provision.keys_dir", "./ssh_keys")
	viper.SetDefault("provision.timeout", 15*time.Second)
	viper.SetDefault("runner.kind", "ansible")
	viper.SetDefault("runner.timeout", 30*time.Minute)
	viper.SetDefault("health.schedule", "*/30 * * * * *")
	viper.SetDefault("health.dial_timeout", 3*time.Second)
	viper.SetDefault("metrics.interval", 15*time.Second)
	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("No config file found, using defaults", zap.Error(err))
	}

	// Open storage
	store, err := storage.NewSQLite(logger, viper.GetString("storage.path"))
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer store.Close()

	// Connect to NATS for the metrics bus
	opts := []nats.Option{
		nats.Name("playbook-orchestrator"),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.url"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}
	if err := monitor.SetupMetricsStream(js); err != nil {
		logger.Fatal("Failed to setup metrics stream", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Provisioner and inventory builder
	provisioner := provision.NewProvisioner(store, provision.Config{
		KeysDir: viper.GetString("provision.keys_dir"),
		Timeout: viper.GetDuration("provision.timeout"),
	}, logger)

	builder := inventory.NewBuilder(store, logger)

	// Automation runner
	var runner orchestrator.Runner
	switch viper.GetString("runner.kind") {
	case "docker":
		runner, err = orchestrator.NewDockerRunner(orchestrator.DockerRunnerConfig{
			Image:        viper.GetString("runner.image"),
			KeysDir:      viper.GetString("provision.keys_dir"),
			PlaybooksDir: viper.GetString("runner.playbooks_dir"),
			Timeout:      viper.GetDuration("runner.timeout"),
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create docker runner", zap.Error(err))
		}
	default:
		runner = orchestrator.NewAnsibleRunner(viper.GetDuration("runner.timeout"), logger)
	}

	orch := orchestrator.NewOrchestrator(store, store, store, builder, runner, logger)

	// Health checker
	checker := health.NewChecker(store, health.Config{
		Schedule:    viper.GetString("health.schedule"),
		DialTimeout: viper.GetDuration("health.dial_timeout"),
	}, logger)
	if err := checker.Start(ctx); err != nil {
		logger.Fatal("Failed to start health checker", zap.Error(err))
	}
	defer checker.Stop()

	// Metrics pipeline
	hub := monitor.NewHub(logger)
	ingestor := monitor.NewIngestor(js, store, hub, logger)
	if err := ingestor.Start(ctx); err != nil {
		logger.Fatal("Failed to start metrics ingestor", zap.Error(err))
	}
	defer ingestor.Stop()

	// Optional local collector, for deployments where the orchestrator
	// host is itself a managed server.
	if selfID := viper.GetString("metrics.self_server_id"); selfID != "" {
		collector := monitor.NewMetricsCollector(js, selfID, viper.GetDuration("metrics.interval"), logger)
		if err := collector.Start(ctx); err != nil {
			logger.Fatal("Failed to start metrics collector", zap.Error(err))
		}
		defer collector.Stop()
	}

	// HTTP API
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.New(store, provisioner, orch, checker, hub, logger).SetupRoutes(router)

	httpServer := &http.Server{
		Addr:    viper.GetString("server.listen"),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	// In-flight runs are never canceled; wait for them to record their
	// terminal state.
	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All executions completed")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached, some executions may still be running")
	}

	logger.Info("Server shutting down gracefully")
}
