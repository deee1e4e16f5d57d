// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for contexts, timers, pools and row notifications.
// Collectors live on a private registry so several instances can coexist
// in one process (and in tests). All methods are nil-safe.

package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hioload_db"

// Metrics holds the collector set of one blackboard instance.
type Metrics struct {
	registry *prometheus.Registry

	actionsPosted    *prometheus.CounterVec
	actionsExecuted  *prometheus.CounterVec
	actionsCancelled *prometheus.CounterVec
	panics           *prometheus.CounterVec
	timerFires       *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
	poolMisses       *prometheus.CounterVec
	rowWrites        prometheus.Counter
	rowNotifications prometheus.Counter
}

// NewMetrics creates and registers the collector set.
func NewMetrics() *Metrics {
	ctxLabels := []string{"context"}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actionsPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "context", Name: "actions_posted_total",
			Help: "Actions accepted by a context queue or run inline.",
		}, ctxLabels),
		actionsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "context", Name: "actions_executed_total",
			Help: "Actions run to completion or exception.",
		}, ctxLabels),
		actionsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "context", Name: "actions_cancelled_total",
			Help: "Queued actions cancelled by context disposal.",
		}, ctxLabels),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "context", Name: "panics_total",
			Help: "Panics recovered at the worker loop boundary.",
		}, ctxLabels),
		timerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "context", Name: "timer_fires_total",
			Help: "Timer client invocations.",
		}, ctxLabels),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "context", Name: "queue_depth",
			Help: "Actions waiting in a context queue.",
		}, ctxLabels),
		poolMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "pool_misses_total",
			Help: "Pool acquisitions served by an un-pooled allocation.",
		}, []string{"pool"}),
		rowWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "row", Name: "writes_total",
			Help: "Accepted row writes.",
		}),
		rowNotifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "notifications_total",
			Help: "Row notifications marshaled onto target contexts.",
		}),
	}
	m.registry.MustRegister(
		m.actionsPosted, m.actionsExecuted, m.actionsCancelled, m.panics,
		m.timerFires, m.queueDepth, m.poolMisses, m.rowWrites, m.rowNotifications,
	)
	return m
}

// Registry exposes the underlying registry (for gathering in tests).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ContextMetrics are the collectors of one context with labels resolved
// up front, so the worker loop does no label hashing.
type ContextMetrics struct {
	posted    prometheus.Counter
	executed  prometheus.Counter
	cancelled prometheus.Counter
	panics    prometheus.Counter
	timers    prometheus.Counter
	depth     prometheus.Gauge
}

// ForContext resolves the per-context collectors.
func (m *Metrics) ForContext(name string) *ContextMetrics {
	if m == nil {
		return nil
	}
	return &ContextMetrics{
		posted:    m.actionsPosted.WithLabelValues(name),
		executed:  m.actionsExecuted.WithLabelValues(name),
		cancelled: m.actionsCancelled.WithLabelValues(name),
		panics:    m.panics.WithLabelValues(name),
		timers:    m.timerFires.WithLabelValues(name),
		depth:     m.queueDepth.WithLabelValues(name),
	}
}

func (c *ContextMetrics) Posted() {
	if c != nil {
		c.posted.Inc()
	}
}

func (c *ContextMetrics) Executed(n int) {
	if c != nil && n > 0 {
		c.executed.Add(float64(n))
	}
}

func (c *ContextMetrics) Cancelled(n int) {
	if c != nil && n > 0 {
		c.cancelled.Add(float64(n))
	}
}

func (c *ContextMetrics) Panic() {
	if c != nil {
		c.panics.Inc()
	}
}

func (c *ContextMetrics) TimerFired() {
	if c != nil {
		c.timers.Inc()
	}
}

func (c *ContextMetrics) QueueDepth(n int) {
	if c != nil {
		c.depth.Set(float64(n))
	}
}

// PoolMiss counts an exhausted pool ("buffers" or "actions").
func (m *Metrics) PoolMiss(pool string) {
	if m != nil {
		m.poolMisses.WithLabelValues(pool).Inc()
	}
}

// RowWrite counts an accepted row write.
func (m *Metrics) RowWrite() {
	if m != nil {
		m.rowWrites.Inc()
	}
}

// Notification counts a marshaled row notification.
func (m *Metrics) Notification() {
	if m != nil {
		m.rowNotifications.Inc()
	}
}
