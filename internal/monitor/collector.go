package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/model"
)

const (
	metricsStreamName = "METRICS"
	metricsSubjects   = "metrics.server.*"
	metricsStreamAge  = 24 * time.Hour
)

// MetricsCollector samples the local host and publishes raw readings for
// one server id. It deliberately mixes flat and structured shapes, the
// same way the deployed agents do: CPU as a flat percentage, memory and
// disk as structured payloads, GPU structured where available.
type MetricsCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	serverID string
	interval time.Duration
	stop     chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(js nats.JetStreamContext, serverID string, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		js:       js,
		serverID: serverID,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// SetupMetricsStream creates the JetStream stream metrics flow through.
func SetupMetricsStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     metricsStreamName,
		Subjects: []string{metricsSubjects},
		Storage:  nats.FileStorage,
		MaxAge:   metricsStreamAge,
		MaxMsgs:  -1,
	})
	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			return nil
		}
		return fmt.Errorf("failed to create metrics stream: %w", err)
	}
	return nil
}

// Start starts the collection loop
func (c *MetricsCollector) Start(ctx context.Context) error {
	c.logger.Info("Starting metrics collector",
		zap.String("server_id", c.serverID),
		zap.Duration("interval", c.interval))

	go c.collectLoop(ctx)
	return nil
}

// Stop stops the metrics collector
func (c *MetricsCollector) Stop() {
	c.logger.Info("Stopping metrics collector")
	close(c.stop)
}

func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *MetricsCollector) collect(ctx context.Context) {
	sample := model.RawMetricSample{
		ServerID:  c.serverID,
		Timestamp: time.Now(),
	}

	if cpuPercent, err := cpu.Percent(time.Second, false); err == nil && len(cpuPercent) > 0 {
		sample.CPU, _ = json.Marshal(cpuPercent[0])
	} else if err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		sample.Memory, _ = json.Marshal(map[string]interface{}{
			"total":        memInfo.Total,
			"used":         memInfo.Used,
			"used_percent": memInfo.UsedPercent,
		})
	} else {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
	}

	if diskInfo, err := disk.Usage("/"); err == nil {
		sample.Disk, _ = json.Marshal(map[string]interface{}{
			"total":        diskInfo.Total,
			"used":         diskInfo.Used,
			"used_percent": diskInfo.UsedPercent,
		})
	} else {
		c.logger.Error("Failed to get disk usage", zap.Error(err))
	}

	if gpu := collectGPU(ctx); gpu != nil {
		sample.GPU = gpu
	}

	data, err := json.Marshal(sample)
	if err != nil {
		c.logger.Error("Failed to marshal metrics", zap.Error(err))
		return
	}

	subject := fmt.Sprintf("metrics.server.%s", c.serverID)
	if _, err := c.js.Publish(subject, data); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
		return
	}

	c.logger.Debug("Metrics published", zap.String("subject", subject))
}

// collectGPU queries nvidia-smi. Hosts without a GPU report nothing and
// the reading is ingested as absent.
func collectGPU(ctx context.Context) json.RawMessage {
	cmdCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(cmdCtx, "nvidia-smi",
		"--query-gpu=utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil
	}

	fields := strings.Split(strings.TrimSpace(string(out)), ",")
	if len(fields) != 3 {
		return nil
	}

	load, err1 := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	used, err2 := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	total, err3 := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"usage_percent":   load,
		"memory_used_mb":  used,
		"memory_total_mb": total,
	})
	if err != nil {
		return nil
	}
	return payload
}
