// Package metrics provides Prometheus instrumentation for the chat filter.
// It exposes counters for message decisions and punishments, gauges for the
// pattern and author counts, and a histogram for evaluation latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts evaluated messages, labeled by decision:
	// "allow", "block", "escalate" or "invalid".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfilter_messages_total",
		Help: "Total number of messages evaluated",
	}, []string{"decision"})

	// EvaluateLatency records the time spent handling one check request.
	EvaluateLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatfilter_evaluate_latency_seconds",
		Help:    "Moderation check latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})

	// EscalationsTotal counts punishment stages reached, labeled by stage.
	EscalationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfilter_escalations_total",
		Help: "Total number of punishment stages reached",
	}, []string{"stage"})

	// CommandsTotal counts punishment commands by outcome:
	// "applied", "forwarded", "failed", or "dropped" when the punishment
	// queue is full.
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfilter_commands_total",
		Help: "Total number of punishment commands executed",
	}, []string{"result"})

	// SanctionedTotal counts messages rejected because the author is
	// banned or muted.
	SanctionedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatfilter_sanctioned_messages_total",
		Help: "Messages rejected due to an active sanction",
	})

	// Patterns tracks the number of patterns in the active matcher.
	Patterns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatfilter_patterns",
		Help: "Number of patterns in the active matcher",
	})

	// TrackedAuthors tracks the number of authors with a violation today.
	TrackedAuthors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatfilter_tracked_authors",
		Help: "Authors with at least one violation today",
	})

	// RebuildsTotal counts matcher rebuilds by result: "ok" or "failed".
	RebuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfilter_matcher_rebuilds_total",
		Help: "Total number of matcher rebuilds",
	}, []string{"result"})

	// ResetsTotal counts violation resets by kind: "author", "all" or "daily".
	ResetsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfilter_resets_total",
		Help: "Total number of violation resets",
	}, []string{"kind"})

	// AuditDropped counts incidents that never reached the audit log.
	AuditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatfilter_audit_dropped_total",
		Help: "Incidents dropped by the audit writer",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		EvaluateLatency,
		EscalationsTotal,
		CommandsTotal,
		SanctionedTotal,
		Patterns,
		TrackedAuthors,
		RebuildsTotal,
		ResetsTotal,
		AuditDropped,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
