package metrics

import "github.com/prometheus/client_golang/prometheus"

// SettlementMetrics counts order state transitions and idempotent replays.
type SettlementMetrics struct {
	transitions *prometheus.CounterVec
	replays     *prometheus.CounterVec
}

// NewSettlementMetrics registers settlement counters on reg.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_transitions_total",
		Help:      "Order status transitions.",
	}, []string{"from", "to"})
	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idempotent_replays_total",
		Help:      "Requests answered from the idempotency store.",
	}, []string{"route"})
	reg.MustRegister(transitions, replays)
	return &SettlementMetrics{transitions: transitions, replays: replays}
}

// IncTransition counts one from->to status change.
func (m *SettlementMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncReplay counts a cached response served for route.
func (m *SettlementMetrics) IncReplay(route string) {
	if m == nil || m.replays == nil {
		return
	}
	m.replays.WithLabelValues(normalizeLabel(route)).Inc()
}
