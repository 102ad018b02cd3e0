// Package metrics exposes Prometheus collectors for the server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "roomwatch_"

	resultAccepted = "accepted"
	resultRejected = "rejected"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing,
// which keeps tests free of registry plumbing.
type Metrics struct {
	doorEvents         *prometheus.CounterVec
	aggregationLatency *prometheus.HistogramVec
	groupUsed          *prometheus.GaugeVec
	groupCapacity      *prometheus.GaugeVec
	retentionDeleted   prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		doorEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "door_events_total",
				Help: "Door events received by result and rejection reason",
			},
			[]string{"result", "reason"},
		),
		aggregationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "aggregation_latency_seconds",
				Help:    "Usage aggregation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		groupUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "group_used",
				Help: "Occupied rooms per group at the last status snapshot",
			},
			[]string{"group"},
		),
		groupCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "group_capacity",
				Help: "Valid rooms per group at the last status snapshot",
			},
			[]string{"group"},
		),
		retentionDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "retention_deleted_events_total",
				Help: "Door events removed by retention",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.doorEvents,
		m.aggregationLatency,
		m.groupUsed,
		m.groupCapacity,
		m.retentionDeleted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveDoorEvent counts one recorded or rejected door event.
func (m *Metrics) ObserveDoorEvent(accepted bool, reason string) {
	if m == nil {
		return
	}
	result := resultAccepted
	if !accepted {
		result = resultRejected
	}
	m.doorEvents.WithLabelValues(result, reason).Inc()
}

// ObserveAggregation records how long an endpoint spent aggregating.
func (m *Metrics) ObserveAggregation(endpoint string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.aggregationLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// SetGroupUsage publishes the latest snapshot of a group.
func (m *Metrics) SetGroupUsage(group string, used, capacity int) {
	if m == nil {
		return
	}
	m.groupUsed.WithLabelValues(group).Set(float64(used))
	m.groupCapacity.WithLabelValues(group).Set(float64(capacity))
}

// AddRetentionDeleted counts events removed by retention.
func (m *Metrics) AddRetentionDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.retentionDeleted.Add(float64(n))
}
