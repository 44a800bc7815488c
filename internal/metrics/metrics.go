// Package metrics exposes the automod pipeline's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Evaluations  prometheus.Counter
	Matches      *prometheus.CounterVec
	Infractions  *prometheus.CounterVec
	Escalations  prometheus.Counter
	EvalDuration prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heimdall_rule_evaluations_total",
			Help: "Content events evaluated against the rule engine.",
		}),
		Matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heimdall_rule_matches_total",
			Help: "Rule matches by content target.",
		}, []string{"target"}),
		Infractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heimdall_infractions_total",
			Help: "Infractions recorded, by source and type.",
		}, []string{"source", "type"}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heimdall_escalations_total",
			Help: "Escalation tiers fired.",
		}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "heimdall_rule_evaluation_seconds",
			Help:    "Rule evaluation latency per content event.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
	}

	registry.MustRegister(m.Evaluations, m.Matches, m.Infractions, m.Escalations, m.EvalDuration)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
