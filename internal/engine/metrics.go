package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapbridge_jobs_total",
			Help: "Total number of disposed jobs.",
		},
		[]string{"kind", "outcome"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapbridge_job_duration_seconds",
			Help:    "Time from job submission to completion in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapbridge_jobs_in_flight",
			Help: "Jobs submitted but not yet disposed.",
		},
	)

	logRecordsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapbridge_log_records_emitted_total",
			Help: "Log records delivered to log targets.",
		},
		[]string{"level"},
	)

	cachesLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapbridge_caches_live",
			Help: "Loaded cache handles that have not been torn down.",
		},
	)

	recorderDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mapbridge_recorder_dropped_total",
			Help: "History records dropped because the recorder queue was full.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(jobsInFlight)
	prometheus.MustRegister(logRecordsEmitted)
	prometheus.MustRegister(cachesLive)
	prometheus.MustRegister(recorderDropped)
}
