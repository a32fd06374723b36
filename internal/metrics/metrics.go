// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "costrologer"

// JobRuns counts scheduled job executions by job and outcome (ok, error).
var JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "scheduler",
	Name:      "job_runs_total",
	Help:      "Total scheduled job runs by job and outcome.",
}, []string{"job", "outcome"})

// JobDuration observes how long each scheduled job run takes.
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "scheduler",
	Name:      "job_duration_seconds",
	Help:      "Duration of scheduled job runs.",
	Buckets:   prometheus.DefBuckets,
}, []string{"job"})

// RecurringEventsPublished counts processing events emitted by the trigger.
var RecurringEventsPublished = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "recurring",
	Name:      "events_published_total",
	Help:      "Total recurring processing events published.",
})

// RecurringProcessed counts processed events by result
// (applied, skipped, not_found, invalid, error).
var RecurringProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "recurring",
	Name:      "processed_total",
	Help:      "Total recurring processing events handled by result.",
}, []string{"result"})

// NotificationsSent counts emails by kind and outcome (sent, failed).
var NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "emails_total",
	Help:      "Total emails attempted by kind and outcome.",
}, []string{"kind", "outcome"})

// HTTPRequests counts API requests by route pattern, method and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total HTTP requests.",
}, []string{"route", "method", "status"})

// ObserveJob records one job run.
func ObserveJob(job string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	JobRuns.WithLabelValues(job, outcome).Inc()
	JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}
