// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerPostings counts ledger entries written, by reason code.
var LedgerPostings = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scores",
	Subsystem: "ledger",
	Name:      "postings_total",
	Help:      "Ledger entries written, by reason code.",
}, []string{"reason"})

// LedgerPoints sums absolute points moved, by reason code.
var LedgerPoints = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scores",
	Subsystem: "ledger",
	Name:      "points_total",
	Help:      "Absolute points moved by ledger entries, by reason code.",
}, []string{"reason"})

// Checkouts counts checkout attempts by outcome.
var Checkouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scores",
	Subsystem: "checkout",
	Name:      "attempts_total",
	Help:      "Checkout attempts by outcome.",
}, []string{"result"})

// Compensations counts checkouts rolled back by compensating entries.
var Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scores",
	Subsystem: "checkout",
	Name:      "compensations_total",
	Help:      "Checkouts undone with reversal entries, by outcome of the reversal.",
}, []string{"result"})

// VerifyPolls counts verification polls by outcome.
var VerifyPolls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scores",
	Subsystem: "verify",
	Name:      "polls_total",
	Help:      "Verification polls by outcome.",
}, []string{"result"})

// PendingSwept counts expired signups purged by the sweeper.
var PendingSwept = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "scores",
	Subsystem: "verify",
	Name:      "pending_swept_total",
	Help:      "Expired pending registrations removed.",
})

// FeedMessages tracks the number of retained inbound chat messages.
var FeedMessages = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "scores",
	Subsystem: "feed",
	Name:      "messages",
	Help:      "Inbound chat messages currently retained.",
})

// HTTPRequests observes HTTP handling latency by route and status class.
var HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "scores",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by route pattern and status.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "status"})
