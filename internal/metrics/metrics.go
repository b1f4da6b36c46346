package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalboard_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalboard_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalboard_connected_clients",
			Help: "Websocket clients currently registered with the hub",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalboard_events_received_total",
			Help: "Inbound events accepted by the hub",
		},
		[]string{"event"},
	)

	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalboard_events_broadcast_total",
			Help: "Events fanned out to every client",
		},
		[]string{"event"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalboard_events_rejected_total",
			Help: "Inbound frames dropped by the hub",
		},
		[]string{"reason"}, // "invalid", "rate_limited"
	)

	SendDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalboard_send_dropped_total",
			Help: "Outbound frames dropped because a client buffer was full",
		},
	)

	// Sink metrics
	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalboard_sink_failures_total",
			Help: "Analytics or webhook deliveries that failed",
		},
		[]string{"sink"},
	)

	AnalyticsLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalboard_analytics_latency_seconds",
			Help:    "Analytics write latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .5},
		},
	)

	WebhookLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalboard_webhook_latency_seconds",
			Help:    "Outbound webhook latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)
