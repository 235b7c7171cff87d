package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tcpchat",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently registered.",
		},
	)
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpchat",
			Subsystem: "sessions",
			Name:      "total",
			Help:      "Sessions accepted, by transport.",
		},
		[]string{"transport"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpchat",
			Subsystem: "router",
			Name:      "messages_total",
			Help:      "Routed messages by kind.",
		},
		[]string{"kind"},
	)
	peersDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tcpchat",
			Subsystem: "router",
			Name:      "peers_dropped_total",
			Help:      "Peers removed after a failed delivery.",
		},
	)
	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tcpchat",
			Subsystem: "sessions",
			Name:      "rate_limited_total",
			Help:      "Inbound lines discarded by the per-session limiter.",
		},
	)
)

// Message kinds for MessageRouted.
const (
	KindBroadcast = "broadcast"
	KindWhisper   = "whisper"
	KindSystem    = "system"
)

// RegisterMetrics registers the chat collectors with the default registry.
// Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(sessionsActive, sessionsTotal, messagesTotal, peersDropped, rateLimited)
	})
}

// SessionOpened counts an accepted connection on transport ("tcp" or "ws").
func SessionOpened(transport string) {
	RegisterMetrics()
	sessionsTotal.WithLabelValues(transport).Inc()
}

// SessionJoined increments the active session gauge after a handshake.
func SessionJoined() {
	RegisterMetrics()
	sessionsActive.Inc()
}

// SessionLeft decrements the active session gauge.
func SessionLeft() {
	RegisterMetrics()
	sessionsActive.Dec()
}

// SessionsReset zeroes the active gauge on shutdown.
func SessionsReset() {
	RegisterMetrics()
	sessionsActive.Set(0)
}

// MessageRouted counts one routed message of kind.
func MessageRouted(kind string) {
	RegisterMetrics()
	messagesTotal.WithLabelValues(kind).Inc()
}

// PeerDropped counts a peer removed after a failed delivery.
func PeerDropped() {
	RegisterMetrics()
	peersDropped.Inc()
}

// LineRateLimited counts an inbound line refused by the rate limiter.
func LineRateLimited() {
	RegisterMetrics()
	rateLimited.Inc()
}
