// Package observability holds the per-process metrics passed to every
// pipeline component at construction time.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pps"

// Metrics groups the counters recorded by the pipeline
type Metrics struct {
	registry *prometheus.Registry

	invalidEntities    *prometheus.CounterVec
	excludedMessages   *prometheus.CounterVec
	backpressure       *prometheus.CounterVec
	pushedMessages     *prometheus.CounterVec
	writtenEntities    *prometheus.CounterVec
	priceEvents        *prometheus.CounterVec
	aggregationResults *prometheus.CounterVec
	publishedDocuments prometheus.Counter
	publishFailures    prometheus.Counter
}

// NewMetrics creates the metrics on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invalidEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_entities_total",
			Help:      "Messages dropped because they could not be decoded or validated.",
		}, []string{"entity"}),
		excludedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "excluded_messages_total",
			Help:      "Messages dropped because their country is excluded.",
		}, []string{"entity", "country"}),
		backpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backpressure_total",
			Help:      "Batches refused because the intermediate queue is over its memory threshold.",
		}, []string{"entity"}),
		pushedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushed_messages_total",
			Help:      "Raw messages pushed to the intermediate queue.",
		}, []string{"entity"}),
		writtenEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "written_entities_total",
			Help:      "Entities written to the store after the version check.",
		}, []string{"entity", "operation"}),
		priceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_events_total",
			Help:      "Price events emitted by upsert workers.",
		}, []string{"entity", "action"}),
		aggregationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_results_total",
			Help:      "Outcomes of applying price events to aggregates.",
		}, []string{"result"}),
		publishedDocuments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_documents_total",
			Help:      "Price documents published to the broker.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Publisher batches that failed.",
		}),
	}

	m.registry.MustRegister(
		m.invalidEntities,
		m.excludedMessages,
		m.backpressure,
		m.pushedMessages,
		m.writtenEntities,
		m.priceEvents,
		m.aggregationResults,
		m.publishedDocuments,
		m.publishFailures,
	)

	return m
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) InvalidEntity(entity string) {
	m.invalidEntities.WithLabelValues(entity).Inc()
}

func (m *Metrics) ExcludedMessages(entity, country string, n int) {
	m.excludedMessages.WithLabelValues(entity, country).Add(float64(n))
}

func (m *Metrics) Backpressure(entity string) {
	m.backpressure.WithLabelValues(entity).Inc()
}

func (m *Metrics) PushedMessages(entity string, n int) {
	m.pushedMessages.WithLabelValues(entity).Add(float64(n))
}

func (m *Metrics) WrittenEntities(entity, operation string, n int) {
	m.writtenEntities.WithLabelValues(entity, operation).Add(float64(n))
}

func (m *Metrics) PriceEvent(entity, action string) {
	m.priceEvents.WithLabelValues(entity, action).Inc()
}

func (m *Metrics) AggregationResult(result string) {
	m.aggregationResults.WithLabelValues(result).Inc()
}

func (m *Metrics) PublishedDocuments(n int) {
	m.publishedDocuments.Add(float64(n))
}

func (m *Metrics) PublishFailure() {
	m.publishFailures.Inc()
}
