package metrics

import "github.com/prometheus/client_golang/prometheus"

// Job status label values
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

var (
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "headswap_jobs_total",
			Help: "Total number of jobs handled, by final status.",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "headswap_job_duration_seconds",
			Help:    "Wall-clock duration of a job from input validation to cleanup, in seconds.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
		},
	)

	SubmitRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "headswap_engine_submit_retries_total",
			Help: "Prompt submissions retried after a transport failure.",
		},
	)

	Polls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "headswap_engine_history_polls_total",
			Help: "History queries issued while waiting for a prompt to finish.",
		},
	)

	ActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "headswap_active_jobs",
			Help: "Number of jobs currently in flight on this worker.",
		},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(SubmitRetries)
	prometheus.MustRegister(Polls)
	prometheus.MustRegister(ActiveJobs)
}
