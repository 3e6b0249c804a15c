// Package metrics exposes gateway metrics in the Prometheus text format on a
// dedicated listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/template-gateway/interfaces"
)

// MetricsServer serves /metrics from its own registry.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server
	Gateway  *GatewayMetrics
}

// New creates a metrics server listening on addr. Metric names are prefixed with namespace.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace})); err != nil {
		return nil, err
	}

	gateway, err := NewGatewayMetrics(namespace, registry)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		Gateway: gateway,
	}, nil
}

// Handler returns the /metrics handler.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// GatewayMetrics counts committed and rejected actions. A nil *GatewayMetrics is a no-op.
type GatewayMetrics struct {
	actions *prometheus.CounterVec
	records *prometheus.CounterVec
	budget  *prometheus.HistogramVec
}

// Action outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeReverted  = "reverted"
)

// NewGatewayMetrics registers the gateway collectors with reg.
func NewGatewayMetrics(namespace string, reg prometheus.Registerer) (*GatewayMetrics, error) {
	m := &GatewayMetrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "actions_total",
			Help:      "Gateway actions by entry point and outcome.",
		}, []string{"action", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "records_total",
			Help:      "Audit records emitted by committed actions.",
		}, []string{"type"}),
		budget: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "budget_used",
			Help:      "Compute budget consumed by forwarded calls of committed actions.",
			Buckets:   prometheus.ExponentialBuckets(1_000, 4, 10),
		}, []string{"action"}),
	}

	for _, c := range []prometheus.Collector{m.actions, m.records, m.budget} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveAction records the outcome of one action.
func (m *GatewayMetrics) ObserveAction(action, outcome string, budgetUsed uint64) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, outcome).Inc()
	if outcome == OutcomeCommitted && budgetUsed > 0 {
		m.budget.WithLabelValues(action).Observe(float64(budgetUsed))
	}
}

// ObserveRecords counts emitted records by type.
func (m *GatewayMetrics) ObserveRecords(records []interfaces.Record) {
	if m == nil {
		return
	}
	for _, r := range records {
		m.records.WithLabelValues(string(r.Type)).Inc()
	}
}
