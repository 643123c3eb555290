package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/chataccess/pkg/enums"
)

// MailMetrics records delivery outcomes of the mail worker by mail kind.
type MailMetrics struct {
	sent     *prometheus.CounterVec
	failed   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMailMetrics registers the mail metrics on the provided registerer.
func NewMailMetrics(reg prometheus.Registerer) *MailMetrics {
	if reg == nil {
		return &MailMetrics{}
	}
	sent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_sent_total",
		Help: "Emails accepted by the mail transport.",
	}, []string{"kind"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_failed_total",
		Help: "Emails the mail transport failed to accept.",
	}, []string{"kind"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mail_send_duration_seconds",
		Help:    "Duration of mail transport calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	reg.MustRegister(sent, failed, duration)
	return &MailMetrics{
		sent:     sent,
		failed:   failed,
		duration: duration,
	}
}

func (m *MailMetrics) ObserveDuration(kind enums.MailKind, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(kindLabel(kind)).Observe(d.Seconds())
}

func (m *MailMetrics) IncSent(kind enums.MailKind) {
	if m == nil || m.sent == nil {
		return
	}
	m.sent.WithLabelValues(kindLabel(kind)).Inc()
}

func (m *MailMetrics) IncFailed(kind enums.MailKind) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(kindLabel(kind)).Inc()
}

func kindLabel(kind enums.MailKind) string {
	if kind == "" {
		return "unknown"
	}
	return string(kind)
}
