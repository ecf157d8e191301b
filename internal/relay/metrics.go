package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 收敛中继边界指标。
type Metrics struct {
	accepted    prometheus.Counter
	ignored     *prometheus.CounterVec
	forwarded   prometheus.Counter
	responses   *prometheus.CounterVec
	rateDropped prometheus.Counter
}

// NewMetrics 构造指标集合，reg 为空时默认使用全局注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "relay",
			Name:      "accepted_total",
			Help:      "Envelopes accepted from the trusted page origin",
		}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "relay",
			Name:      "ignored_total",
			Help:      "Channel messages ignored at the trust boundary",
		}, []string{"reason"}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "relay",
			Name:      "forwarded_total",
			Help:      "Calls forwarded to the privileged host",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "relay",
			Name:      "responses_total",
			Help:      "Responses published back to the page by outcome",
		}, []string{"outcome"}),
		rateDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "relay",
			Name:      "rate_dropped_total",
			Help:      "Envelopes dropped by the inbound rate limiter",
		}),
	}
	reg.MustRegister(m.accepted, m.ignored, m.forwarded, m.responses, m.rateDropped)
	return m
}

func (m *Metrics) incAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
}

func (m *Metrics) incIgnored(reason string) {
	if m == nil {
		return
	}
	m.ignored.WithLabelValues(reason).Inc()
}

func (m *Metrics) incForwarded() {
	if m == nil {
		return
	}
	m.forwarded.Inc()
}

func (m *Metrics) incResponse(outcome string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) incRateDropped() {
	if m == nil {
		return
	}
	m.rateDropped.Inc()
}
