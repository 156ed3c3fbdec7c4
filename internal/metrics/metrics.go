// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	MessagesAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_appended_total",
			Help: "Messages accepted by the store, by payload kind.",
		},
		[]string{"kind"},
	)

	MessagesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_deleted_total",
			Help: "Messages hard-deleted by their authors.",
		},
	)

	AppendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_append_failures_total",
			Help: "Rejected or failed appends by error kind.",
		},
		[]string{"kind"},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_subscriptions",
			Help: "Live conversation subscriptions currently open.",
		},
	)

	SnapshotsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_snapshots_delivered_total",
			Help: "Conversation snapshots pushed to subscribers.",
		},
	)

	WebSocketConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_websocket_connections",
			Help: "Open WebSocket connections by endpoint.",
		},
		[]string{"endpoint"},
	)

	StoreOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_store_online",
			Help: "1 while the document store answers pings, 0 otherwise.",
		},
	)

	MediaUploadedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_media_uploaded_bytes_total",
			Help: "Bytes written to the object store by media kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequests,
		HTTPDuration,
		MessagesAppended,
		MessagesDeleted,
		AppendFailures,
		ActiveSubscriptions,
		SnapshotsDelivered,
		WebSocketConnections,
		StoreOnline,
		MediaUploadedBytes,
	)
}

// SetOnline mirrors a connectivity transition into StoreOnline.
func SetOnline(online bool) {
	if online {
		StoreOnline.Set(1)
		return
	}
	StoreOnline.Set(0)
}
