package provider

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 收敛页面侧关联表相关指标。
type Metrics struct {
	pending        prometheus.Gauge
	issued         prometheus.Counter
	outcomes       *prometheus.CounterVec
	discarded      *prometheus.CounterVec
	resolveLatency prometheus.Histogram
}

// NewMetrics 构造指标集合，reg 为空时默认使用全局注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "provider",
			Name:      "pending_requests",
			Help:      "Number of in-flight correlation table entries",
		}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of requests issued",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "provider",
			Name:      "request_outcomes_total",
			Help:      "Terminal request states by outcome",
		}, []string{"outcome"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "provider",
			Name:      "discarded_messages_total",
			Help:      "Channel messages dropped at the boundary",
		}, []string{"reason"}),
		resolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bridge",
			Subsystem: "provider",
			Name:      "resolve_latency_ms",
			Help:      "Time from request issue to terminal state in milliseconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000, 30000},
		}),
	}
	reg.MustRegister(m.pending, m.issued, m.outcomes, m.discarded, m.resolveLatency)
	return m
}

func (m *Metrics) incIssued() {
	if m == nil {
		return
	}
	m.issued.Inc()
	m.pending.Inc()
}

func (m *Metrics) observeOutcome(outcome string, ms float64) {
	if m == nil {
		return
	}
	m.pending.Dec()
	m.outcomes.WithLabelValues(outcome).Inc()
	m.resolveLatency.Observe(ms)
}

func (m *Metrics) incDiscarded(reason string) {
	if m == nil {
		return
	}
	m.discarded.WithLabelValues(reason).Inc()
}
