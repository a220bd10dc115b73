package session

import (
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
)

// Metrics tracks session activity: raw counters plus moving averages for
// the latencies that matter when judging link quality.
type Metrics struct {
	mu sync.RWMutex

	messagesSent      int64
	messagesReceived  int64
	operationsApplied int64
	reconnects        int64

	restLatency *movingaverage.MovingAverage
}

// NewMetrics creates an empty metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{
		restLatency: movingaverage.New(10),
	}
}

// MessageSent counts one outbound WebSocket message.
func (m *Metrics) MessageSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesSent++
}

// MessageReceived counts one inbound WebSocket frame.
func (m *Metrics) MessageReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesReceived++
}

// OperationApplied counts one durably acknowledged operation and folds its
// round-trip time into the latency average.
func (m *Metrics) OperationApplied(dur time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operationsApplied++
	m.restLatency.Add(float64(dur/time.Microsecond) / 1000.0)
}

// Reconnected counts one successful reconnect.
func (m *Metrics) Reconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
}

// MetricsSnapshot is a point-in-time copy of the session counters. The
// latency average is in milliseconds.
type MetricsSnapshot struct {
	MessagesSent      int64
	MessagesReceived  int64
	OperationsApplied int64
	Reconnects        int64
	RESTLatencyMillis float64
}

// Snapshot returns the current metric values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		MessagesSent:      m.messagesSent,
		MessagesReceived:  m.messagesReceived,
		OperationsApplied: m.operationsApplied,
		Reconnects:        m.reconnects,
		RESTLatencyMillis: m.restLatency.Avg(),
	}
}
