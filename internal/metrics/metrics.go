// Package metrics holds the Prometheus collectors for the write and
// delivery paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatcore"

var (
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_appended_total",
		Help:      "Messages whose both views were persisted.",
	})

	ViewWriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "view_write_retries_total",
		Help:      "Repeated attempts to persist a message view.",
	})

	PartialWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "partial_writes_total",
		Help:      "Appends that left at least one view unpersisted after retries.",
	})

	IndexUpserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_upserts_total",
		Help:      "Conversation index upserts by outcome.",
	}, []string{"outcome"})

	ActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_subscriptions",
		Help:      "Live subscriptions by kind.",
	}, []string{"kind"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Events handed to subscription handlers by kind.",
	}, []string{"kind"})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_failures_total",
		Help:      "Subscriptions torn down after a handler failure or queue overflow.",
	}, []string{"kind"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_rate_limited_total",
		Help:      "Send requests rejected by the per-sender limiter.",
	})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route template.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)
