package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfctl",
			Subsystem: "protocol",
			Name:      "frames_sent_total",
			Help:      "Datagrams written by the transport.",
		},
		[]string{"node"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfctl",
			Subsystem: "protocol",
			Name:      "frames_received_total",
			Help:      "Datagrams read by the receive loop.",
		},
		[]string{"node"},
	)
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfctl",
			Subsystem: "protocol",
			Name:      "messages_sent_total",
			Help:      "Messages encoded and sent.",
		},
		[]string{"node"},
	)
	messagesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfctl",
			Subsystem: "protocol",
			Name:      "messages_completed_total",
			Help:      "Messages reassembled and validated.",
		},
		[]string{"node"},
	)
	messagesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfctl",
			Subsystem: "protocol",
			Name:      "messages_rejected_total",
			Help:      "Frames or messages dropped during reassembly.",
		},
		[]string{"node", "reason"},
	)
	sendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfctl",
			Subsystem: "protocol",
			Name:      "send_errors_total",
			Help:      "Datagram writes that failed or were short.",
		},
		[]string{"node"},
	)
	verifiedSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfctl",
			Subsystem: "protocol",
			Name:      "verified_sends_total",
			Help:      "Verified sends by outcome.",
		},
		[]string{"node", "success"},
	)
	verifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "perfctl",
			Subsystem: "protocol",
			Name:      "verified_send_duration_seconds",
			Help:      "Time from verify request to ack or give-up.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "success"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "perfctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	agentReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perfctl",
			Subsystem: "collector",
			Name:      "agent_reports_total",
			Help:      "Agent reports accepted by the collector.",
		},
		[]string{"node", "host"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesSent,
			framesReceived,
			messagesSent,
			messagesCompleted,
			messagesRejected,
			sendErrors,
			verifiedSends,
			verifyDuration,
			httpRequests,
			httpDuration,
			agentReports,
		)
	})
}

func RecordFramesSent(node string, n int) {
	RegisterMetrics()
	framesSent.WithLabelValues(node).Add(float64(n))
}

func RecordFrameReceived(node string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(node).Inc()
}

func RecordMessageSent(node string) {
	RegisterMetrics()
	messagesSent.WithLabelValues(node).Inc()
}

func RecordMessageCompleted(node string) {
	RegisterMetrics()
	messagesCompleted.WithLabelValues(node).Inc()
}

func RecordMessageRejected(node, reason string) {
	RegisterMetrics()
	messagesRejected.WithLabelValues(node, reason).Inc()
}

func RecordSendError(node string) {
	RegisterMetrics()
	sendErrors.WithLabelValues(node).Inc()
}

func RecordVerifiedSend(node string, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	verifiedSends.WithLabelValues(node, successLabel).Inc()
	verifyDuration.WithLabelValues(node, successLabel).Observe(duration.Seconds())
}

func RecordAgentReport(node, host string) {
	RegisterMetrics()
	agentReports.WithLabelValues(node, host).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
