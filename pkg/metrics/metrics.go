// Package metrics defines the Prometheus collectors shared by the demo services.
// They are registered on the default registry and served by promhttp on each
// service's health port.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "obo"

var (
	// ExchangeCacheRequests counts broker cache lookups by result (hit, miss).
	ExchangeCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "exchange_cache_requests_total",
		Help:      "Exchanged-token cache lookups by result.",
	}, []string{"audience", "result"})

	// ExchangeCacheEntries tracks the number of live entries in the in-memory cache.
	ExchangeCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "exchange_cache_entries",
		Help:      "Entries currently held by the in-memory exchange cache.",
	})

	// ExchangeCacheEvictions counts entries removed for capacity or expiry.
	ExchangeCacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "exchange_cache_evictions_total",
		Help:      "Exchange cache evictions by reason.",
	}, []string{"reason"})

	// TokenExchanges counts round trips to the identity provider by outcome.
	TokenExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_exchanges_total",
		Help:      "RFC 8693 token exchanges by audience and outcome.",
	}, []string{"audience", "outcome"})

	// TokenExchangeDuration observes identity provider round-trip latency.
	TokenExchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "token_exchange_duration_seconds",
		Help:      "Token exchange latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"audience"})

	// DownstreamCalls counts downstream invocations by HTTP status class.
	DownstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downstream_calls_total",
		Help:      "Downstream calls by status code (0 for transport errors).",
	}, []string{"code"})

	// DownstreamDuration observes downstream call latency.
	DownstreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "downstream_call_duration_seconds",
		Help:      "Downstream call latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// DelegateRequests counts delegate endpoint outcomes by final state.
	DelegateRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delegate_requests_total",
		Help:      "Delegate endpoint requests by terminal state.",
	}, []string{"state"})

	// AuthorizationDecisions counts access decisions made by a service.
	AuthorizationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authorization_decisions_total",
		Help:      "Authorization decisions by service, decision and caller type.",
	}, []string{"service", "decision", "caller_type"})

	// AuthorizationDuration observes policy evaluation latency.
	AuthorizationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "authorization_duration_seconds",
		Help:      "Policy evaluation latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service"})
)
