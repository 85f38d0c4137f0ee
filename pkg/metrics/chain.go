package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ChainMetrics instruments calls against the escrow chain node.
type ChainMetrics struct {
	latency   *prometheus.HistogramVec
	errors    *prometheus.CounterVec
	inclusion *prometheus.CounterVec
}

// NewChainMetrics registers chain RPC metrics on reg. A nil registerer yields a no-op recorder.
func NewChainMetrics(reg prometheus.Registerer) *ChainMetrics {
	if reg == nil {
		return &ChainMetrics{}
	}
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "rpc_duration_seconds",
		Help:      "Latency of chain RPC calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "rpc_errors_total",
		Help:      "Chain RPC failures by class.",
	}, []string{"method", "class"})
	inclusion := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "inclusion_total",
		Help:      "Outcome of waiting for extrinsic inclusion.",
	}, []string{"outcome"})
	reg.MustRegister(latency, errs, inclusion)
	return &ChainMetrics{latency: latency, errors: errs, inclusion: inclusion}
}

// ObserveCall records the latency of one RPC call.
func (m *ChainMetrics) ObserveCall(method string, d time.Duration) {
	if m == nil || m.latency == nil {
		return
	}
	m.latency.WithLabelValues(normalizeLabel(method)).Observe(d.Seconds())
}

// IncError counts a failed RPC call; class is "unavailable", "rejected" or "malformed".
func (m *ChainMetrics) IncError(method, class string) {
	if m == nil || m.errors == nil {
		return
	}
	m.errors.WithLabelValues(normalizeLabel(method), normalizeLabel(class)).Inc()
}

// IncInclusion counts the outcome of an inclusion wait.
func (m *ChainMetrics) IncInclusion(outcome string) {
	if m == nil || m.inclusion == nil {
		return
	}
	m.inclusion.WithLabelValues(normalizeLabel(outcome)).Inc()
}
