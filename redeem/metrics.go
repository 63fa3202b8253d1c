package redeem

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps collectors tracking redemption health.
type Metrics struct {
	payoutLatency *prometheus.HistogramVec
	settled       *prometheus.CounterVec
	errors        *prometheus.CounterVec
}

// NewMetrics builds the redemption collectors and registers them with reg.
// A nil registerer leaves the collectors unregistered, which test code uses
// to avoid duplicate registration across coordinators.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		payoutLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gitpay",
			Subsystem: "redeem",
			Name:      "payout_latency_seconds",
			Help:      "Latency distribution for completed payout calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"denomination"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gitpay",
			Subsystem: "redeem",
			Name:      "settled_total",
			Help:      "Count of rewards settled, segmented by terminal status.",
		}, []string{"status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gitpay",
			Subsystem: "redeem",
			Name:      "errors_total",
			Help:      "Count of redemption failures segmented by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.payoutLatency, m.settled, m.errors)
	}
	return m
}

// ObserveLatency records the duration of a successful payout call.
func (m *Metrics) ObserveLatency(denomination string, d time.Duration) {
	if m == nil {
		return
	}
	m.payoutLatency.WithLabelValues(denomination).Observe(d.Seconds())
}

// RecordSettled counts a terminal transition.
func (m *Metrics) RecordSettled(status string) {
	if m == nil {
		return
	}
	m.settled.WithLabelValues(status).Inc()
}

// RecordError counts a redemption failure.
func (m *Metrics) RecordError(reason string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(reason).Inc()
}
