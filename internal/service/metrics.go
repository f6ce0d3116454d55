package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	probeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslmon_probe_attempts_total",
		Help: "Probe attempts, by outcome (ok, transient, terminal).",
	}, []string{"outcome"})

	probeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sslmon_probe_duration_seconds",
		Help:    "Duration of single probe attempts.",
		Buckets: prometheus.DefBuckets,
	})

	checksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslmon_checks_completed_total",
		Help: "Completed checks by resulting classification.",
	}, []string{"status"})

	checksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslmon_checks_dropped_total",
		Help: "Check results discarded before being stored.",
	}, []string{"reason"})

	checkRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sslmon_check_retries_total",
		Help: "Backoff retries after transient probe failures.",
	})

	notificationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslmon_notification_events_total",
		Help: "Transition events handed to delivery, by kind.",
	}, []string{"kind"})

	notificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sslmon_notification_failures_total",
		Help: "Failed or dropped notification deliveries, by channel.",
	}, []string{"channel"})

	observationsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sslmon_observations_pruned_total",
		Help: "Observations removed by the retention job.",
	})
)
