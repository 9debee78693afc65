package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkloops",
		Name:      "job_runs_total",
		Help:      "Number of scheduled job runs by outcome.",
	}, []string{"job", "status"})

	jobItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkloops",
		Name:      "job_items_total",
		Help:      "Number of rows changed or reported by scheduled jobs.",
	}, []string{"job"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkloops",
		Name:      "job_duration_seconds",
		Help:      "Duration of scheduled job runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
	}, []string{"job"})
)
