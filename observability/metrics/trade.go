package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// TradeMetrics tracks the trade lifecycle engine.
type TradeMetrics struct {
	transitions     *prometheus.CounterVec
	failures        *prometheus.CounterVec
	feesDistributed *prometheus.CounterVec
	securityAlerts  *prometheus.CounterVec
	batchItems      *prometheus.CounterVec
}

var (
	tradeOnce     sync.Once
	tradeRegistry *TradeMetrics
)

// Trade returns the process-wide trade metrics, registering them on first use.
func Trade() *TradeMetrics {
	tradeOnce.Do(func() {
		tradeRegistry = &TradeMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "localmoney_trade_transitions_total",
				Help: "Committed trade state transitions by destination state.",
			}, []string{"state"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "localmoney_trade_action_failures_total",
				Help: "Rejected trade actions by action and error code.",
			}, []string{"action", "code"}),
			feesDistributed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "localmoney_trade_fees_distributed_total",
				Help: "Token base units distributed as fees by component and token.",
			}, []string{"component", "token"}),
			securityAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "localmoney_security_alerts_total",
				Help: "Degenerate input alerts by pattern.",
			}, []string{"kind"}),
			batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "localmoney_trade_batch_items_total",
				Help: "Batch operation items by operation and outcome.",
			}, []string{"operation", "outcome"}),
		}
		prometheus.MustRegister(
			tradeRegistry.transitions,
			tradeRegistry.failures,
			tradeRegistry.feesDistributed,
			tradeRegistry.securityAlerts,
			tradeRegistry.batchItems,
		)
	})
	return tradeRegistry
}

func (m *TradeMetrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *TradeMetrics) ObserveFailure(action, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "internal"
	}
	m.failures.WithLabelValues(action, code).Inc()
}

func (m *TradeMetrics) ObserveFee(component, token string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.feesDistributed.WithLabelValues(component, token).Add(float64(amount))
}

func (m *TradeMetrics) ObserveSecurityAlert(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.securityAlerts.WithLabelValues(kind).Inc()
}

func (m *TradeMetrics) ObserveBatch(operation string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.batchItems.WithLabelValues(operation, "succeeded").Add(float64(succeeded))
	m.batchItems.WithLabelValues(operation, "failed").Add(float64(failed))
}
