package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type chatMetrics struct {
	activeSessions  prometheus.Gauge
	sessionTotal    prometheus.Counter
	sessionEvicted  prometheus.Counter
	sessionExpired  prometheus.Counter
	frameErrors     *prometheus.CounterVec
	frameLatency    *prometheus.HistogramVec
	messagesRouted  prometheus.Counter
	deliveryResults *prometheus.CounterVec
}

func newChatMetrics(reg prometheus.Registerer) *chatMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &chatMetrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatapp_sessions_active",
			Help: "Current number of registered chat sessions.",
		}),
		sessionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatapp_sessions_total",
			Help: "Total number of sessions handled since start.",
		}),
		sessionEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatapp_sessions_evicted_total",
			Help: "Sessions closed because the same user connected again.",
		}),
		sessionExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatapp_sessions_expired_total",
			Help: "Sessions reclaimed by the idle housekeeping sweep.",
		}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatapp_frame_errors_total",
			Help: "Frame validation or routing errors.",
		}, []string{"code"}),
		frameLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatapp_frame_latency_seconds",
			Help:    "Latency for handling inbound frames.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"op"}),
		messagesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatapp_messages_routed_total",
			Help: "Messages validated, authorized and persisted.",
		}),
		deliveryResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatapp_deliveries_total",
			Help: "Best-effort receiver pushes grouped by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.sessionTotal,
		m.sessionEvicted,
		m.sessionExpired,
		m.frameErrors,
		m.frameLatency,
		m.messagesRouted,
		m.deliveryResults,
	)
	return m
}

func (m *chatMetrics) incSession() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionTotal.Inc()
}

func (m *chatMetrics) decSession() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *chatMetrics) recordEviction() {
	if m == nil {
		return
	}
	m.sessionEvicted.Inc()
}

func (m *chatMetrics) recordExpiry() {
	if m == nil {
		return
	}
	m.sessionExpired.Inc()
}

func (m *chatMetrics) recordError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "internal"
	}
	m.frameErrors.WithLabelValues(code).Inc()
}

func (m *chatMetrics) observeLatency(op string, dur time.Duration) {
	if m == nil || op == "" {
		return
	}
	m.frameLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *chatMetrics) recordMessage() {
	if m == nil {
		return
	}
	m.messagesRouted.Inc()
}

func (m *chatMetrics) recordDelivery(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.deliveryResults.WithLabelValues(result).Inc()
}
