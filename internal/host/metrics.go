package host

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 收敛特权主机指标。
type Metrics struct {
	calls         *prometheus.CounterVec
	callErrors    *prometheus.CounterVec
	callLatency   *prometheus.HistogramVec
	confirmations *prometheus.CounterVec
	pendingConfs  prometheus.Gauge
}

// NewMetrics 构造指标集合，reg 为空时默认使用全局注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "host",
			Name:      "calls_total",
			Help:      "Forwarded calls handled by method",
		}, []string{"method"}),
		callErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "host",
			Name:      "call_errors_total",
			Help:      "Calls answered with an error outcome by code",
		}, []string{"code"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bridge",
			Subsystem: "host",
			Name:      "call_latency_ms",
			Help:      "Call handling time in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 20000},
		}, []string{"method"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "host",
			Name:      "confirmations_total",
			Help:      "Confirmation prompt outcomes",
		}, []string{"outcome"}),
		pendingConfs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "host",
			Name:      "pending_confirmations",
			Help:      "Confirmation prompts awaiting a verdict",
		}),
	}
	reg.MustRegister(m.calls, m.callErrors, m.callLatency, m.confirmations, m.pendingConfs)
	return m
}

func (m *Metrics) observeCall(method string, ms float64) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(method).Inc()
	m.callLatency.WithLabelValues(method).Observe(ms)
}

func (m *Metrics) incCallError(code string) {
	if m == nil {
		return
	}
	m.callErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) observeConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setPendingConfirmations(n int) {
	if m == nil {
		return
	}
	m.pendingConfs.Set(float64(n))
}
