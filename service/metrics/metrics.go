package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the wallet.
// It is passed explicitly to every component that records metrics;
// a nil *Metrics means "don't record".
type Metrics struct {
	// Ledger call metrics
	ledgerCallsTotal   *prometheus.CounterVec
	ledgerCallDuration *prometheus.HistogramVec

	// Wallet metrics
	transfersTotal           *prometheus.CounterVec
	transactionsDecodedTotal *prometheus.CounterVec
	refreshesTotal           *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		ledgerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_calls_total",
				Help: "Total number of ledger calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		ledgerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_call_duration_seconds",
				Help:    "Duration of ledger calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transfers_total",
				Help: "Total number of submitted transfers by outcome (ok or error kind)",
			},
			[]string{"outcome"},
		),
		transactionsDecodedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transactions_decoded_total",
				Help: "Total number of history records decoded by kind",
			},
			[]string{"kind"},
		),
		refreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_refreshes_total",
				Help: "Total number of wallet view refreshes by target and status",
			},
			[]string{"target", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Ledger metric helpers

// RecordLedgerCall records a ledger call with duration.
func (m *Metrics) RecordLedgerCall(method, status, endpoint string, duration float64) {
	m.ledgerCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.ledgerCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordTransfer records a transfer outcome: "ok" or the error kind.
func (m *Metrics) RecordTransfer(outcome string) {
	m.transfersTotal.WithLabelValues(outcome).Inc()
}

// RecordTransactionDecoded records one decoded history record.
// kind is "transfer", "mint", "burn" or "malformed".
func (m *Metrics) RecordTransactionDecoded(kind string) {
	m.transactionsDecodedTotal.WithLabelValues(kind).Inc()
}

// RecordRefresh records a balance or history refresh.
func (m *Metrics) RecordRefresh(target string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.refreshesTotal.WithLabelValues(target, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
