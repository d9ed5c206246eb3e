package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	journaled *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking the event journal.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			journaled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "localmoney",
				Subsystem: "events",
				Name:      "journaled_total",
				Help:      "Count of events persisted to the journal segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "localmoney",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Count of events the journal failed to persist segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.journaled, eventRegistry.dropped)
	})
	return eventRegistry
}

func normalizeEventType(eventType string) string {
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	return normalized
}

// RecordJournaled increments the persisted counter for eventType.
func (m *eventMetrics) RecordJournaled(eventType string) {
	if m == nil {
		return
	}
	m.journaled.WithLabelValues(normalizeEventType(eventType)).Inc()
}

// RecordDropped increments the failure counter for eventType.
func (m *eventMetrics) RecordDropped(eventType string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeEventType(eventType)).Inc()
}
