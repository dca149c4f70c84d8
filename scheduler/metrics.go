package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports job run counters and durations.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// NewMetrics registers the scheduler collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flinkly",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Job runs by job, trigger and status.",
		}, []string{"job", "trigger", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flinkly",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Wall time of executed job runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flinkly",
			Subsystem: "scheduler",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.duration, m.lastSuccess)
	}
	return m
}

func (m *Metrics) observe(rec RunRecord) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(rec.Job, rec.Trigger, rec.Status).Inc()
	if rec.Status == StatusSkippedLocked {
		return
	}
	m.duration.WithLabelValues(rec.Job).Observe(rec.Duration().Seconds())
	if rec.Status == StatusSucceeded {
		m.lastSuccess.WithLabelValues(rec.Job).Set(float64(rec.FinishedAt.Unix()))
	}
}
