package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenda_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// RemindersDispatched counts reminder notifications created by the scheduler,
	// labelled by trigger (scan|manual) and window (30m|1h|24h|manual).
	RemindersDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenda_reminders_dispatched_total",
			Help: "Total number of reminder notifications dispatched",
		},
		[]string{"trigger", "window"},
	)

	// ReminderPassDuration measures how long a scheduler scan pass takes.
	ReminderPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agenda_reminder_pass_duration_seconds",
			Help:    "Duration of reminder scheduler scan passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agenda_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
