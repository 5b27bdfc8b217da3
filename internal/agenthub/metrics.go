package agenthub

import (
	"context"
	"time"

	"github.com/owulveryck/agentmail/internal/observability"
)

const DefaultMetricsTickInterval = 30 * time.Second

// DepthSource lists mailboxes and their depth. *mailbox.Communicator
// implements it.
type DepthSource interface {
	Agents() []string
	Pending(agentID string) int
}

// MetricsTicker handles periodic system and queue depth sampling
type MetricsTicker struct {
	ctx            context.Context
	metricsManager *observability.MetricsManager
	source         DepthSource
	ticker         *time.Ticker
	done           chan struct{}
}

// NewMetricsTicker creates a new metrics ticker. source may be nil, in which
// case only process metrics are sampled.
func NewMetricsTicker(ctx context.Context, metricsManager *observability.MetricsManager, interval time.Duration, source DepthSource) *MetricsTicker {
	if interval <= 0 {
		interval = DefaultMetricsTickInterval
	}
	return &MetricsTicker{
		ctx:            ctx,
		metricsManager: metricsManager,
		source:         source,
		ticker:         time.NewTicker(interval),
		done:           make(chan struct{}),
	}
}

// Start begins the metrics collection
func (m *MetricsTicker) Start() {
	go func() {
		defer m.ticker.Stop()
		m.Sample()
		for {
			select {
			case <-m.ticker.C:
				m.Sample()
			case <-m.ctx.Done():
				return
			case <-m.done:
				return
			}
		}
	}()
}

// Sample records one round of metrics.
func (m *MetricsTicker) Sample() {
	m.metricsManager.UpdateSystemMetrics(m.ctx)
	if m.source == nil {
		return
	}
	for _, agentID := range m.source.Agents() {
		m.metricsManager.SetQueueDepth(m.ctx, agentID, m.source.Pending(agentID))
	}
}

// Stop stops the metrics collection
func (m *MetricsTicker) Stop() {
	close(m.done)
}
