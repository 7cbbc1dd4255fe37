package observability

import "sync"

// Metrics provides counters, gauges, and histogram recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var (
	metricsMu      sync.RWMutex
	defaultMetrics Metrics = noopMetrics{}
)

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string)       {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)         {}

// StreamMetricsSnapshot captures per-stream runtime counters for
// callers that want an in-process view without an otel backend
// (mirrors the teacher's dispatcher-focused runtime accumulator).
type StreamMetricsSnapshot struct {
	ReceiveCount    map[string]uint64
	ReconnectCount  map[string]int
	LastByteHistory map[string]int64
}

// RuntimeMetrics accumulates per-stream metrics in-memory, for callers
// that want to inspect aggregate counters without standing up an otel
// exporter.
type RuntimeMetrics struct {
	mu         sync.Mutex
	receives   map[string]uint64
	reconnects map[string]int
	lastBytes  map[string]int64
}

// NewRuntimeMetrics constructs an empty in-memory metrics accumulator.
func NewRuntimeMetrics() *RuntimeMetrics {
	return &RuntimeMetrics{
		receives:   make(map[string]uint64),
		reconnects: make(map[string]int),
		lastBytes:  make(map[string]int64),
	}
}

// RecordReceive increments the receive counter for stream by one and
// tracks the most recent frame size.
func (m *RuntimeMetrics) RecordReceive(stream string, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receives[stream]++
	m.lastBytes[stream] = bytes
}

// RecordReconnect increments the reconnect counter for stream.
func (m *RuntimeMetrics) RecordReconnect(stream string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects[stream]++
}

// Snapshot copies the current in-memory metrics state for reporting.
func (m *RuntimeMetrics) Snapshot() StreamMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := StreamMetricsSnapshot{
		ReceiveCount:    make(map[string]uint64, len(m.receives)),
		ReconnectCount:  make(map[string]int, len(m.reconnects)),
		LastByteHistory: make(map[string]int64, len(m.lastBytes)),
	}
	for k, v := range m.receives {
		snap.ReceiveCount[k] = v
	}
	for k, v := range m.reconnects {
		snap.ReconnectCount[k] = v
	}
	for k, v := range m.lastBytes {
		snap.LastByteHistory[k] = v
	}
	return snap
}
