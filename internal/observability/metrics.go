package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "messages_received_total", Help: "Inbound dispatch frames by type"},
		[]string{"type"},
	)
	CommandsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "commands_sent_total", Help: "Outbound dispatch commands by type"},
		[]string{"type"},
	)
	SendsFailed   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "sends_failed_total", Help: "Commands that could not be transmitted"})
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "frames_dropped_total", Help: "Inbound frames dropped as malformed or unknown"})

	OffersCollected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_collected_total", Help: "Driver offers accepted into a session"})
	SessionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "session_outcomes_total", Help: "Ride sessions by terminal state"},
		[]string{"outcome"},
	)

	SimRidersConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch_sim", Name: "riders_connected", Help: "Rider websocket sessions held by the simulator"})
	SimOffersSent      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch_sim", Name: "offers_sent_total", Help: "driverRequest frames emitted by the simulator"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch_sim", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch_sim",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
