package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	LedgerEntries        *prometheus.CounterVec
	LedgerCompensations  *prometheus.CounterVec
	Orders               *prometheus.CounterVec
	Recharges            *prometheus.CounterVec
	GatewayRequests      *prometheus.CounterVec
	GatewayLatency       *prometheus.HistogramVec
	Notifications        *prometheus.CounterVec
	WAOutgoingMessages   *prometheus.CounterVec
	IdempotentReplays    prometheus.Counter
	HTTPRequestDurations *prometheus.HistogramVec
	Errors               *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_entries_total",
				Help:      "Wallet transactions appended by type and outcome.",
			}, []string{"type", "outcome"}),
			LedgerCompensations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_compensations_total",
				Help:      "Order placement compensations by outcome.",
			}, []string{"outcome"}),
			Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Order placements and transitions by status.",
			}, []string{"status"}),
			Recharges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recharges_total",
				Help:      "Mobile money recharge attempts by method and outcome.",
			}, []string{"method", "outcome"}),
			GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total E2Payments requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Latency distribution for E2Payments requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Operator notifications by sink and outcome.",
			}, []string{"sink", "outcome"}),
			WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_outgoing_messages_total",
				Help:      "Total outgoing WhatsApp messages sent.",
			}, []string{"type"}),
			IdempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idempotent_replays_total",
				Help:      "Responses replayed from the idempotency store.",
			}),
			HTTPRequestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP handler latency by route and status.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.LedgerEntries,
			metricsInstance.LedgerCompensations,
			metricsInstance.Orders,
			metricsInstance.Recharges,
			metricsInstance.GatewayRequests,
			metricsInstance.GatewayLatency,
			metricsInstance.Notifications,
			metricsInstance.WAOutgoingMessages,
			metricsInstance.IdempotentReplays,
			metricsInstance.HTTPRequestDurations,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

// IncError bumps the error counter for component. Safe on a nil receiver.
func (m *Metrics) IncError(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}
