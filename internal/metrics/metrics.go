package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	busEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_bus_events_total",
			Help: "Total number of events published to project rooms",
		},
		[]string{"type"},
	)
	busDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_bus_dropped_total",
			Help: "Events dropped because a subscriber queue was full",
		},
	)
	appendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_message_append_failures_total",
			Help: "Chat messages that could not be persisted before broadcast",
		},
	)
	aiTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_ai_turns_total",
			Help: "AI collaborator turns by outcome",
		},
		[]string{"outcome"},
	)
	runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_runs_total",
			Help: "Sandbox runs by outcome",
		},
		[]string{"outcome"},
	)
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_active_sessions",
			Help: "Currently connected websocket sessions",
		},
	)
)

// IncBusEvent counts one published event of the given type.
func IncBusEvent(eventType string) {
	busEvents.WithLabelValues(eventType).Inc()
}

func IncBusDropped() { busDropped.Inc() }

func IncAppendFailure() { appendFailures.Inc() }

// IncAITurn counts an AI turn by outcome (help, reply, merge, error, rejected).
func IncAITurn(outcome string) {
	aiTurns.WithLabelValues(outcome).Inc()
}

// IncRun counts a run reaching a terminal state.
func IncRun(outcome string) {
	runs.WithLabelValues(outcome).Inc()
}

// SessionOpened and SessionClosed track the active session gauge.
func SessionOpened() { activeSessions.Inc() }

func SessionClosed() { activeSessions.Dec() }

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
