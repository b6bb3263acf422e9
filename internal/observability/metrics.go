// Package observability exposes the Prometheus instruments shared by the
// conversation service, the ledger cache and the broadcaster.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	MessagesHandled *prometheus.CounterVec
	HandlerErrors   prometheus.Counter
	LedgerFetches   prometheus.Counter
	LedgerCacheHits prometheus.Counter
	BroadcastSends  *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		MessagesHandled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_handled_total",
			Help:      "Inbound messages handled, by conversation state.",
		}, []string{"state"}),
		HandlerErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Message handlers that ended in an error or panic.",
		}),
		LedgerFetches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_fetches_total",
			Help:      "Full ledger workbook downloads.",
		}),
		LedgerCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_cache_hits_total",
			Help:      "Ledger lookups served from the cached workbook.",
		}),
		BroadcastSends: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_sends_total",
			Help:      "Broadcast deliveries by outcome.",
		}, []string{"outcome"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
