package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	emitted  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed engine events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pegvault",
				Subsystem: "events",
				Name:      "journaled_total",
				Help:      "Count of committed engine events written to the journal segmented by type.",
			}, []string{"type"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pegvault",
				Subsystem: "events",
				Name:      "journal_failures_total",
				Help:      "Count of engine events the journal failed to persist segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.failures)
	})
	return eventRegistry
}

// RecordJournaled increments the journal counter for the event type.
func (m *eventMetrics) RecordJournaled(eventType string) {
	if m == nil {
		return
	}
	m.emitted.WithLabelValues(normalizeEventType(eventType)).Inc()
}

// RecordFailure increments the failure counter for the event type.
func (m *eventMetrics) RecordFailure(eventType string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(normalizeEventType(eventType)).Inc()
}

func normalizeEventType(eventType string) string {
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
