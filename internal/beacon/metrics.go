// SPDX-License-Identifier: MIT

package beacon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vastkit_beacon_attempts_total",
			Help: "Total number of beacon HTTP request attempts",
		},
		[]string{"event", "status_class"},
	)
	attemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vastkit_beacon_attempt_duration_seconds",
			Help:    "Duration of beacon HTTP requests per attempt",
			Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 8),
		},
		[]string{"event", "status_class"},
	)
	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vastkit_beacon_retries_total",
			Help: "Number of beacon delivery retries performed",
		},
		[]string{"event"},
	)
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vastkit_beacon_outcomes_total",
			Help: "Final beacon delivery outcomes",
		},
		[]string{"event", "outcome"}, // outcome=delivered|permanent|exhausted|canceled
	)
)

func statusClass(err error, status int) string {
	if err != nil {
		return "error"
	}
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status > 0:
		return "1xx"
	}
	return "unknown"
}

func recordAttempt(event string, status int, duration time.Duration, err error, retry bool) {
	class := statusClass(err, status)
	attemptsTotal.WithLabelValues(event, class).Inc()
	attemptDuration.WithLabelValues(event, class).Observe(duration.Seconds())
	if retry {
		retriesTotal.WithLabelValues(event).Inc()
	}
}

func recordOutcome(event, outcome string) {
	outcomesTotal.WithLabelValues(event, outcome).Inc()
}
