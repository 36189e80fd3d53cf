package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector backed by Prometheus.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	notificationsDropped prometheus.Counter
	decisions            *prometheus.CounterVec
	dropped              *prometheus.CounterVec
	uploads              *prometheus.CounterVec
	uploadLatency        prometheus.Histogram
	retries              prometheus.Counter
	queueDepth           prometheus.Gauge
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a collector registering on reg
// (prometheus.DefaultRegisterer when nil) under namespace ("wakatime_ls" when empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "wakatime_ls"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.notificationsDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lsp",
			Name:      "notifications_dropped_total",
			Help:      "Editor notifications dropped because the pipeline was saturated.",
		})
		p.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "throttle",
			Name:      "decisions_total",
			Help:      "Throttle decisions by result (send, suppress) and forced flag.",
		}, []string{"result", "forced"})
		p.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "dispatch",
			Name:      "heartbeats_dropped_total",
			Help:      "Heartbeats dropped by reason (overflow, exhausted, permanent, shutdown).",
		}, []string{"reason"})
		p.uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "dispatch",
			Name:      "uploads_total",
			Help:      "Uploader invocations by outcome.",
		}, []string{"outcome"})
		p.uploadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "dispatch",
			Name:      "upload_duration_seconds",
			Help:      "Wall time of uploader invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		})
		p.retries = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Heartbeats rescheduled after a transient failure.",
		})
		p.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Heartbeats waiting for a worker.",
		})

		p.reg.MustRegister(p.notificationsDropped)
		p.reg.MustRegister(p.decisions)
		p.reg.MustRegister(p.dropped)
		p.reg.MustRegister(p.uploads)
		p.reg.MustRegister(p.uploadLatency)
		p.reg.MustRegister(p.retries)
		p.reg.MustRegister(p.queueDepth)
	})
}

// NotificationDropped implements Collector.
func (p *Prometheus) NotificationDropped() {
	p.ensureRegistered()
	p.notificationsDropped.Inc()
}

// HeartbeatDecided implements Collector.
func (p *Prometheus) HeartbeatDecided(sent, forced bool) {
	p.ensureRegistered()
	result := "suppress"
	if sent {
		result = "send"
	}
	p.decisions.WithLabelValues(result, strconv.FormatBool(forced)).Inc()
}

// HeartbeatDropped implements Collector.
func (p *Prometheus) HeartbeatDropped(reason string) {
	p.ensureRegistered()
	p.dropped.WithLabelValues(reason).Inc()
}

// UploadCompleted implements Collector.
func (p *Prometheus) UploadCompleted(kind string, duration time.Duration) {
	p.ensureRegistered()
	p.uploads.WithLabelValues(kind).Inc()
	p.uploadLatency.Observe(duration.Seconds())
}

// UploadRetried implements Collector.
func (p *Prometheus) UploadRetried() {
	p.ensureRegistered()
	p.retries.Inc()
}

// QueueDepth implements Collector.
func (p *Prometheus) QueueDepth(n int) {
	p.ensureRegistered()
	p.queueDepth.Set(float64(n))
}
