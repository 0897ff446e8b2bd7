package monitor

import (
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/model"
)

// Hub fans normalized samples out to live subscribers, keyed by server
// id. The sequence is lazy and unbounded: a subscriber that falls behind
// has samples dropped rather than blocking the ingest path, and a
// reconnect simply resumes from the next sample.
type Hub struct {
	logger *zap.Logger
	mu     sync.RWMutex
	subs   map[string]map[chan model.MetricSample]struct{}
}

// NewHub creates a new metrics hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger.Named("metrics-hub"),
		subs:   make(map[string]map[chan model.MetricSample]struct{}),
	}
}

// Subscribe registers a live feed for one server id.
func (h *Hub) Subscribe(serverID string) chan model.MetricSample {
	ch := make(chan model.MetricSample, 16)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[serverID] == nil {
		h.subs[serverID] = make(map[chan model.MetricSample]struct{})
	}
	h.subs[serverID][ch] = struct{}{}

	return ch
}

// Unsubscribe removes a feed and closes its channel.
func (h *Hub) Unsubscribe(serverID string, ch chan model.MetricSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subs[serverID]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subs, serverID)
		}
	}
}

// Publish delivers a sample to every subscriber of its server id.
func (h *Hub) Publish(sample model.MetricSample) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[sample.ServerID] {
		select {
		case ch <- sample:
		default:
			// Slow consumer; drop rather than stall ingestion.
		}
	}
}
