// Package metrics exposes the Prometheus collectors vitalguard reports
// through /metrics. The counters mirror what
// wisefido-sensor-fusion/internal/consumer.Metrics tracked by hand
// (processed/succeeded/failed/skipped), but are backed by real
// collectors instead of a periodically-logged struct.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector vitalguard registers.
type Registry struct {
	MessagesProcessed prometheus.Counter
	MessagesParsed    prometheus.Counter
	MessagesDropped   *prometheus.CounterVec // label: reason
	AlertsEmitted     *prometheus.CounterVec // label: severity
	StoreErrors       *prometheus.CounterVec // label: operation
	BrokerReconnects  prometheus.Counter
	LLMRequests       *prometheus.CounterVec // label: outcome
	QueueDepth        prometheus.Gauge
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		MessagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vitalguard",
			Name:      "messages_processed_total",
			Help:      "Raw vitals messages consumed from the broker.",
		}),
		MessagesParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vitalguard",
			Name:      "messages_parsed_total",
			Help:      "Raw vitals messages successfully parsed and validated.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vitalguard",
			Name:      "messages_dropped_total",
			Help:      "Raw vitals messages dropped, by reason.",
		}, []string{"reason"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vitalguard",
			Name:      "alerts_emitted_total",
			Help:      "Alerts emitted by the detector, by severity.",
		}, []string{"severity"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vitalguard",
			Name:      "store_errors_total",
			Help:      "Time-series store errors, by operation.",
		}, []string{"operation"}),
		BrokerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vitalguard",
			Name:      "broker_reconnects_total",
			Help:      "Broker reconnect attempts.",
		}),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vitalguard",
			Name:      "llm_requests_total",
			Help:      "LLM trend-analysis proxy requests, by outcome.",
		}, []string{"outcome"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vitalguard",
			Name:      "ingestion_queue_depth",
			Help:      "Current depth of the ingestion work channel.",
		}),
	}

	reg.MustRegister(
		r.MessagesProcessed,
		r.MessagesParsed,
		r.MessagesDropped,
		r.AlertsEmitted,
		r.StoreErrors,
		r.BrokerReconnects,
		r.LLMRequests,
		r.QueueDepth,
	)

	return r
}
