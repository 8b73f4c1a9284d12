package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Role labels which side of the MLLP link recorded a sample.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Connection outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeDialed   = "dialed"
	OutcomeFailed   = "failed"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mllp",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"name", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mllp",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"name", "method", "path", "status"},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mllp",
			Name:      "connections_total",
			Help:      "MLLP connections by outcome.",
		},
		[]string{"role", "outcome"},
	)
	activeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mllp",
			Name:      "active_connections",
			Help:      "Currently open MLLP connections.",
		},
		[]string{"role"},
	)
	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mllp",
			Name:      "exchanges_total",
			Help:      "Completed request/acknowledgement exchanges by acknowledgement code.",
		},
		[]string{"role", "ack_code"},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mllp",
			Name:      "errors_total",
			Help:      "MLLP protocol errors by kind.",
		},
		[]string{"role", "kind"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mllp",
			Name:      "exchange_duration_seconds",
			Help:      "Time from frame received (server) or sent (client) to acknowledgement.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			connections,
			activeConnections,
			exchanges,
			protocolErrors,
			exchangeDuration,
		)
	})
}

func RecordHTTPRequest(name, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(name, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(name, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnection(role Role, outcome string) {
	RegisterMetrics()
	connections.WithLabelValues(string(role), outcome).Inc()
}

func ConnectionOpened(role Role) {
	RegisterMetrics()
	activeConnections.WithLabelValues(string(role)).Inc()
}

func ConnectionClosed(role Role) {
	RegisterMetrics()
	activeConnections.WithLabelValues(string(role)).Dec()
}

func RecordExchange(role Role, ackCode string, duration time.Duration) {
	RegisterMetrics()
	if ackCode == "" {
		ackCode = "none"
	}
	exchanges.WithLabelValues(string(role), ackCode).Inc()
	exchangeDuration.WithLabelValues(string(role)).Observe(duration.Seconds())
}

// RecordError counts err under kind, usually protocol.Kind.Label().
func RecordError(role Role, kind string) {
	RegisterMetrics()
	if kind == "" {
		kind = "other"
	}
	protocolErrors.WithLabelValues(string(role), kind).Inc()
}
