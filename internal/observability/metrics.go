package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	datagramsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simp",
			Subsystem: "session",
			Name:      "datagrams_sent_total",
			Help:      "Datagrams handed to the transport, by message kind.",
		},
		[]string{"role", "kind"},
	)
	datagramsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simp",
			Subsystem: "session",
			Name:      "datagrams_received_total",
			Help:      "Decoded datagrams received from the session peer, by message kind.",
		},
		[]string{"role", "kind"},
	)
	retransmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simp",
			Subsystem: "session",
			Name:      "retransmissions_total",
			Help:      "Timeout-driven retransmissions of an outstanding message.",
		},
		[]string{"role"},
	)
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simp",
			Subsystem: "session",
			Name:      "deliveries_total",
			Help:      "Inbound DATA outcomes: delivered or duplicate.",
		},
		[]string{"role", "outcome"},
	)
	discarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simp",
			Subsystem: "session",
			Name:      "discarded_total",
			Help:      "Inbound datagrams discarded without state change.",
		},
		[]string{"role", "reason"},
	)
	deliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simp",
			Subsystem: "session",
			Name:      "delivery_failures_total",
			Help:      "Messages abandoned after exceeding the retry cap.",
		},
		[]string{"role"},
	)
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "simp",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently open.",
		},
		[]string{"role"},
	)
	ackRTT = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "simp",
			Subsystem: "session",
			Name:      "ack_rtt_seconds",
			Help:      "Time from first transmission to matching ack, for messages never retransmitted.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
		[]string{"role"},
	)
	listenerRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simp",
			Subsystem: "listener",
			Name:      "rejected_total",
			Help:      "Connection attempts answered with ERR or FIN.",
		},
		[]string{"reason"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simp",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "simp",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			datagramsSent,
			datagramsReceived,
			retransmissions,
			deliveries,
			discarded,
			deliveryFailures,
			activeSessions,
			ackRTT,
			listenerRejects,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordSent(role, kind string) {
	RegisterMetrics()
	datagramsSent.WithLabelValues(role, kind).Inc()
}

func RecordReceived(role, kind string) {
	RegisterMetrics()
	datagramsReceived.WithLabelValues(role, kind).Inc()
}

func RecordRetransmit(role string) {
	RegisterMetrics()
	retransmissions.WithLabelValues(role).Inc()
}

func RecordDelivery(role string, duplicate bool) {
	RegisterMetrics()
	outcome := "delivered"
	if duplicate {
		outcome = "duplicate"
	}
	deliveries.WithLabelValues(role, outcome).Inc()
}

func RecordDiscard(role, reason string) {
	RegisterMetrics()
	discarded.WithLabelValues(role, reason).Inc()
}

func RecordDeliveryFailure(role string) {
	RegisterMetrics()
	deliveryFailures.WithLabelValues(role).Inc()
}

func SessionOpened(role string) {
	RegisterMetrics()
	activeSessions.WithLabelValues(role).Inc()
}

func SessionClosed(role string) {
	RegisterMetrics()
	activeSessions.WithLabelValues(role).Dec()
}

func ObserveAckRTT(role string, d time.Duration) {
	RegisterMetrics()
	ackRTT.WithLabelValues(role).Observe(d.Seconds())
}

func RecordListenerReject(reason string) {
	RegisterMetrics()
	listenerRejects.WithLabelValues(reason).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
