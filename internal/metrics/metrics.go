// Package metrics provides Prometheus collectors for the filter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filter_stub"

// Metrics holds all collectors for one filter instance.
type Metrics struct {
	// Cycle metrics
	CyclesTotal     prometheus.Counter
	CycleDuration   prometheus.Histogram
	EventsEmitted   *prometheus.CounterVec
	EventsSkipped   *prometheus.CounterVec
	CycleErrors     *prometheus.CounterVec
	FramesForwarded prometheus.Counter
	OutputBytes     prometheus.Counter
	FilterState     prometheus.Gauge

	// Kafka mirror metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
// A nil reg uses a fresh private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of processing cycles",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of processing cycles in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Total number of events written to the output file",
		}, []string{"mode"}),
		EventsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Total number of cycles that emitted no event",
		}, []string{"reason"}),
		CycleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Total number of errors raised during cycles",
		}, []string{"category"}),
		FramesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_forwarded_total",
			Help:      "Total number of upstream frames forwarded downstream",
		}),
		OutputBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Total bytes appended to the output file",
		}),
		FilterState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filter_state",
			Help:      "Lifecycle state of the filter (0 uninitialized, 1 ready, 2 running, 3 stopped)",
		}),

		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of events mirrored to Kafka",
		}, []string{"topic"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka mirror errors",
		}, []string{"topic"}),
		KafkaPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka mirror publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the metrics registered by New. It falls back to the
// default gatherer when the registerer cannot gather.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordCycle records a completed cycle.
func (m *Metrics) RecordCycle(durationSeconds float64, forwarded int) {
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(durationSeconds)
	if forwarded > 0 {
		m.FramesForwarded.Add(float64(forwarded))
	}
}

// RecordEmit records one event appended to the output.
func (m *Metrics) RecordEmit(mode string, bytes int) {
	m.EventsEmitted.WithLabelValues(mode).Inc()
	m.OutputBytes.Add(float64(bytes))
}

// RecordSkip records a cycle that emitted nothing.
func (m *Metrics) RecordSkip(reason string) {
	m.EventsSkipped.WithLabelValues(reason).Inc()
}

// RecordError records a cycle error by category.
func (m *Metrics) RecordError(category string) {
	if category == "" {
		category = "other"
	}
	m.CycleErrors.WithLabelValues(category).Inc()
}

// SetState records the filter lifecycle state.
func (m *Metrics) SetState(state int) {
	m.FilterState.Set(float64(state))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic string, err error, durationSeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(durationSeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic).Inc()
	}
}
