package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/model"
)

// Ingestor consumes raw samples off the metrics stream, normalizes the
// heterogeneous reading shapes once at this boundary, appends them to
// the time series and feeds live subscribers.
type Ingestor struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	store  MetricAppender
	hub    *Hub
	sub    *nats.Subscription
}

// MetricAppender is the slice of the metric store the ingestor needs.
type MetricAppender interface {
	AppendMetric(ctx context.Context, sample *model.MetricSample) error
}

// NewIngestor creates a new metrics ingestor
func NewIngestor(js nats.JetStreamContext, store MetricAppender, hub *Hub, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		logger: logger.Named("metrics-ingestor"),
		js:     js,
		store:  store,
		hub:    hub,
	}
}

// Start subscribes to the metrics stream
func (i *Ingestor) Start(ctx context.Context) error {
	sub, err := i.js.Subscribe(metricsSubjects, func(msg *nats.Msg) {
		i.handleSample(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to metrics: %w", err)
	}
	i.sub = sub

	i.logger.Info("Metrics ingestor started")
	return nil
}

// Stop unsubscribes from the metrics stream
func (i *Ingestor) Stop() {
	if i.sub != nil {
		i.sub.Unsubscribe()
	}
}

func (i *Ingestor) handleSample(ctx context.Context, msg *nats.Msg) {
	var raw model.RawMetricSample
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		i.logger.Error("Failed to unmarshal metric sample",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return
	}

	if raw.ServerID == "" {
		i.logger.Warn("Dropping sample without server id",
			zap.String("subject", msg.Subject))
		return
	}

	sample := raw.Normalize()

	if err := i.store.AppendMetric(ctx, &sample); err != nil {
		i.logger.Error("Failed to append metric",
			zap.String("server_id", sample.ServerID),
			zap.Error(err))
		return
	}

	i.hub.Publish(sample)
}
