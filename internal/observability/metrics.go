package observability

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/chunkwire/internal/protocol"
	"github.com/danmuck/chunkwire/internal/protocol/fragment"
	"github.com/danmuck/chunkwire/internal/protocol/reassembly"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chunkwire"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reassembly",
			Name:      "sessions_opened_total",
			Help:      "Reassembly sessions opened by a first packet.",
		},
		[]string{"node"},
	)
	sessionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reassembly",
			Name:      "sessions_completed_total",
			Help:      "Reassembly sessions that delivered a payload.",
		},
		[]string{"node"},
	)
	sessionsAborted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reassembly",
			Name:      "sessions_aborted_total",
			Help:      "Reassembly sessions discarded on a protocol error.",
		},
		[]string{"node", "reason"},
	)
	sessionsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reassembly",
			Name:      "sessions_dropped_total",
			Help:      "Reassembly sessions discarded without error.",
		},
		[]string{"node", "reason"},
	)
	payloadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reassembly",
			Name:      "payload_bytes",
			Help:      "Size of reassembled payloads.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		},
		[]string{"node"},
	)
	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "packets_received_total",
			Help:      "Physical packets received.",
		},
		[]string{"node"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "packet_bytes_received_total",
			Help:      "Chunk bytes received.",
		},
		[]string{"node"},
	)
	payloadsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fragment",
			Name:      "payloads_sent_total",
			Help:      "Payloads fragmented and sent.",
		},
		[]string{"node", "direction"},
	)
	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fragment",
			Name:      "packets_sent_total",
			Help:      "Physical packets sent.",
		},
		[]string{"node", "direction"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fragment",
			Name:      "payload_bytes_sent_total",
			Help:      "Payload bytes sent before framing.",
		},
		[]string{"node", "direction"},
	)
	connsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_open",
			Help:      "Live transport connections.",
		},
		[]string{"node", "kind"},
	)
	connsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_total",
			Help:      "Transport connections accepted or dialed.",
		},
		[]string{"node", "kind"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sessionsOpened, sessionsCompleted, sessionsAborted, sessionsDropped, payloadBytes,
			packetsReceived, bytesReceived,
			payloadsSent, packetsSent, bytesSent,
			connsOpen, connsTotal,
		)
	})
}

// RegisterOpenSessions exports fn as the open session gauge for node.
// Registering the same node twice keeps the first collector.
func RegisterOpenSessions(node string, fn func() int) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "reassembly",
		Name:        "sessions_open",
		Help:        "Reassembly sessions awaiting more packets.",
		ConstLabels: prometheus.Labels{"node": node},
	}, func() float64 { return float64(fn()) })
	err := prometheus.Register(gauge)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// Metrics records protocol and connection events for one node. It satisfies
// the transport and splitter observer interfaces. Channel names are left out
// of labels since peers choose them.
type Metrics struct {
	node string
}

func NewMetrics(node string) *Metrics {
	RegisterMetrics()
	return &Metrics{node: node}
}

func (m *Metrics) SessionOpened(_ string, _ int) {
	sessionsOpened.WithLabelValues(m.node).Inc()
}

func (m *Metrics) SessionCompleted(_ string, bytes, _ int) {
	sessionsCompleted.WithLabelValues(m.node).Inc()
	payloadBytes.WithLabelValues(m.node).Observe(float64(bytes))
}

func (m *Metrics) SessionAborted(_ string, err error) {
	sessionsAborted.WithLabelValues(m.node, AbortReason(err)).Inc()
}

func (m *Metrics) SessionDropped(_ string, reason reassembly.DropReason) {
	sessionsDropped.WithLabelValues(m.node, string(reason)).Inc()
}

func (m *Metrics) PacketReceived(_ string, bytes int) {
	packetsReceived.WithLabelValues(m.node).Inc()
	bytesReceived.WithLabelValues(m.node).Add(float64(bytes))
}

func (m *Metrics) PayloadSent(_ string, dir protocol.Direction, bytes, packets int) {
	d := dir.String()
	payloadsSent.WithLabelValues(m.node, d).Inc()
	packetsSent.WithLabelValues(m.node, d).Add(float64(packets))
	bytesSent.WithLabelValues(m.node, d).Add(float64(bytes))
}

func (m *Metrics) ConnOpened(kind string) {
	connsTotal.WithLabelValues(m.node, kind).Inc()
	connsOpen.WithLabelValues(m.node, kind).Inc()
}

func (m *Metrics) ConnClosed(kind string) {
	connsOpen.WithLabelValues(m.node, kind).Dec()
}

// AbortReason maps a reassembly error to a bounded label value.
func AbortReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrOversizedPayload):
		return "oversized"
	case errors.Is(err, protocol.ErrMalformedLengthPrefix):
		return "malformed"
	case errors.Is(err, protocol.ErrTrailingBytes):
		return "trailing"
	case errors.Is(err, protocol.ErrTooManySessions):
		return "too_many_sessions"
	case errors.Is(err, protocol.ErrDuplicateSession):
		return "duplicate"
	case errors.Is(err, fragment.ErrLimitTooSmall):
		return "limit"
	default:
		return "other"
	}
}
