package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escalation_evaluation_passes_total",
		Help: "Completed evaluation passes.",
	})

	rulesCheckedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escalation_rules_checked_total",
		Help: "Rules processed across all evaluation passes.",
	})

	escalationsFiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escalation_fired_total",
		Help: "Escalation log entries written by the engine.",
	})

	passDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "escalation_pass_duration_seconds",
		Help:    "Wall time of one evaluation pass.",
		Buckets: prometheus.DefBuckets,
	})
)
