// Package metrics holds the relay's Prometheus collectors, registered on the default registry
// and served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Callback outcomes
const (
	CallbackChallenge = "challenge"
	CallbackDelivered = "delivered"
	CallbackDenied    = "denied"
	CallbackStale     = "stale"
	CallbackDropped   = "dropped"
	CallbackLimited   = "rate_limited"
)

// Subscription request results
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

var (
	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_callbacks_total",
		Help: "Hub callbacks received, by outcome.",
	}, []string{"outcome"})

	SubscriptionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_subscription_requests_total",
		Help: "Hub subscription requests issued, by topic and result.",
	}, []string{"topic", "result"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_connections",
		Help: "Socket connections currently registered.",
	})

	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_upstream_request_duration_seconds",
		Help:    "Latency of outbound calls to the identity provider and platform API.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
