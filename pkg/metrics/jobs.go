package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records outcomes of the scheduled maintenance jobs.
type JobMetrics struct {
	duration     *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	pending      prometheus.Gauge
	oldestAgeSec prometheus.Gauge
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "maintenance_job_duration_seconds",
		Help:    "Duration of maintenance jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "maintenance_job_runs_total",
		Help: "Maintenance job executions by result.",
	}, []string{"job", "result"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "access_requests_pending",
		Help: "Access requests awaiting a decision.",
	})
	oldest := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "access_requests_pending_oldest_age_seconds",
		Help: "Age of the oldest pending access request.",
	})
	reg.MustRegister(duration, runs, pending, oldest)
	return &JobMetrics{
		duration:     duration,
		runs:         runs,
		pending:      pending,
		oldestAgeSec: oldest,
	}
}

func (m *JobMetrics) ObserveDuration(job string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(label(job)).Observe(d.Seconds())
}

func (m *JobMetrics) IncSuccess(job string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(label(job), "success").Inc()
}

func (m *JobMetrics) IncFailure(job string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(label(job), "failure").Inc()
}

// SetPendingBacklog publishes the pending count and the oldest age.
func (m *JobMetrics) SetPendingBacklog(pending int64, oldestAge time.Duration) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(pending))
	m.oldestAgeSec.Set(oldestAge.Seconds())
}
