// Package metrics holds the Prometheus collectors shared across tripsync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreWrites counts collection mutations by operation and outcome.
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripsync",
		Name:      "store_writes_total",
		Help:      "Collection mutations issued, by operation and result.",
	}, []string{"op", "result"})

	// SnapshotsApplied counts snapshots applied to local projections.
	SnapshotsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripsync",
		Name:      "snapshots_applied_total",
		Help:      "Snapshots applied to local projections, by collection purpose.",
	}, []string{"purpose"})

	// SubscriptionErrors counts subscriptions that failed and went inert.
	SubscriptionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripsync",
		Name:      "subscription_errors_total",
		Help:      "Subscriptions that reported a failure, by collection purpose.",
	}, []string{"purpose"})

	// PresenceWrites counts presence publishes by outcome.
	PresenceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripsync",
		Name:      "presence_writes_total",
		Help:      "Own position publishes, by result (written, unchanged, skipped, failed).",
	}, []string{"result"})

	// PositionFixes counts fixes read from a device, split into emitted and dropped.
	PositionFixes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripsync",
		Name:      "position_fixes_total",
		Help:      "Position fixes read from the device, by result (emitted, dropped).",
	}, []string{"result"})

	// SearchRequests counts search bridge calls by outcome.
	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripsync",
		Name:      "search_requests_total",
		Help:      "Search queries, by result (ok, cached, error).",
	}, []string{"result"})

	// RPCs counts handled RPCs by procedure and code.
	RPCs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripsync",
		Name:      "rpc_requests_total",
		Help:      "Handled RPCs, by procedure and result code.",
	}, []string{"procedure", "code"})

	// LiveFeeds tracks open websocket snapshot feeds.
	LiveFeeds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripsync",
		Name:      "live_feeds",
		Help:      "Open websocket snapshot feeds.",
	})
)

// Result returns "ok" for a nil error and "error" otherwise.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
