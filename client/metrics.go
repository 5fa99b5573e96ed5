package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsNamespace is the Prometheus namespace for gateway metrics
const MetricsNamespace = "websession"

// Refresh outcome label values
const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeNetwork  = "network"
	outcomeError    = "error"
)

// metrics holds the Prometheus collectors for one Gateway
type metrics struct {
	refreshes    *prometheus.CounterVec
	retries      prometheus.Counter
	coalesced    prometheus.Counter
	terminations *prometheus.CounterVec
}

// newMetrics registers gateway metrics with reg. A nil registerer yields
// unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "gateway",
			Name:      "refreshes_total",
			Help:      "Refresh calls issued, by outcome",
		}, []string{"outcome"}),

		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Requests re-issued after a refresh",
		}),

		coalesced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "gateway",
			Name:      "refresh_reused_total",
			Help:      "401 recoveries that reused a credential instead of issuing a new refresh",
		}),

		terminations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "gateway",
			Name:      "session_terminations_total",
			Help:      "Involuntary session terminations, by reason",
		}, []string{"reason"}),
	}
}

func refreshOutcome(err error) string {
	switch KindOf(err) {
	case KindNone:
		return outcomeSuccess
	case KindRefreshRejected:
		return outcomeRejected
	case KindNetworkUnavailable:
		return outcomeNetwork
	default:
		return outcomeError
	}
}
