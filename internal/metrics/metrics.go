package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexvoice_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "cortexvoice_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	ClipsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexvoice_clips_received_total",
			Help: "Total number of voice clips accepted",
		},
	)

	ClipBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortexvoice_clip_bytes",
			Help:    "Size of accepted voice clips in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	RoomMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexvoice_room_members",
			Help: "Number of members currently tracked in the voice room",
		},
	)

	RoomConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexvoice_room_connections",
			Help: "Number of open room channel sockets",
		},
	)

	PresenceReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexvoice_presence_reaped_total",
			Help: "Total number of members removed for missed heartbeats",
		},
	)

	MemoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexvoice_memory_operations_total",
			Help: "Total number of memory store operations",
		},
		[]string{"op"},
	)

	TurnsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexvoice_turns_pruned_total",
			Help: "Total number of conversation turns removed by retention",
		},
	)
)
