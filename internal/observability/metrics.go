package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionOpens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "senderctl",
			Subsystem: "session",
			Name:      "opens_total",
			Help:      "Sessions that reached the open state.",
		},
		[]string{"tenant"},
	)
	sessionCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "senderctl",
			Subsystem: "session",
			Name:      "closes_total",
			Help:      "Session close events by disconnect cause.",
		},
		[]string{"tenant", "cause"},
	)
	attemptOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "senderctl",
			Subsystem: "lifecycle",
			Name:      "attempt_outcomes_total",
			Help:      "Terminal attempt-chain outcomes by profile.",
		},
		[]string{"profile", "outcome"},
	)
	liveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "senderctl",
			Subsystem: "session",
			Name:      "live",
			Help:      "Live transports currently registered.",
		},
	)
	reconnectDispatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "senderctl",
			Subsystem: "reconnect",
			Name:      "dispatches_total",
			Help:      "Background reconnect attempts dispatched by the scheduler.",
		},
	)
	publishedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "senderctl",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Lifecycle events handed to the publisher, by type.",
		},
		[]string{"type"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionOpens,
			sessionCloses,
			attemptOutcomes,
			liveSessions,
			reconnectDispatches,
			publishedEvents,
		)
	})
}

func RecordSessionOpen(tenant string) {
	RegisterMetrics()
	sessionOpens.WithLabelValues(tenant).Inc()
}

func RecordSessionClose(tenant, cause string) {
	RegisterMetrics()
	sessionCloses.WithLabelValues(tenant, cause).Inc()
}

func RecordAttemptOutcome(profile, outcome string) {
	RegisterMetrics()
	attemptOutcomes.WithLabelValues(profile, outcome).Inc()
}

func SetLiveSessions(n int) {
	RegisterMetrics()
	liveSessions.Set(float64(n))
}

func RecordReconnectDispatch() {
	RegisterMetrics()
	reconnectDispatches.Inc()
}

func RecordPublishedEvent(eventType string) {
	RegisterMetrics()
	publishedEvents.WithLabelValues(eventType).Inc()
}
