package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// MessagesReceived feed messages delivered to a monitor
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_messages_received_total",
			Help: "Total number of telemetry feed messages received",
		},
		[]string{"feed"},
	)

	// MessagesDropped messages rejected by the subject filter
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_messages_dropped_total",
			Help: "Total number of telemetry feed messages dropped by the subject filter",
		},
		[]string{"feed", "reason"},
	)

	// SamplesAccepted samples appended to a window
	SamplesAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "window_samples_accepted_total",
			Help: "Total number of samples appended to rolling windows",
		},
		[]string{"feed"},
	)

	// DecodeErrors feeds ended by an undecodable frame
	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_decode_errors_total",
			Help: "Total number of feed subscriptions ended by a decode failure",
		},
		[]string{"feed"},
	)

	// ActiveSubscriptions open feed subscriptions
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_active_subscriptions",
			Help: "Number of currently open telemetry feed subscriptions",
		},
	)

	// WindowSamples samples currently retained per subject
	WindowSamples = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "window_samples",
			Help: "Number of samples currently retained in the rolling window",
		},
		[]string{"feed", "subject"},
	)

	// RollingAverage current rolling average over the window
	RollingAverage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rolling_average",
			Help: "Current rolling average for device metrics over the window",
		},
		[]string{"device_id", "metric_type"},
	)

	// RedisOperations redis operations
	RedisOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)
)
