package manager

import (
	"time"

	"github.com/coachpo/streamkeeper/internal/buffer"
	"github.com/coachpo/streamkeeper/internal/signal"
	"github.com/coachpo/streamkeeper/internal/streamrec"
)

// GetStreamInfo returns the full snapshot for streamID, or false if the
// stream is unknown (spec.md §4.1: "operations on unknown stream_id are
// silent no-ops").
func (m *Manager) GetStreamInfo(streamID string) (streamrec.Snapshot, bool) {
	rec, ok := m.lookup(streamID)
	if !ok {
		return streamrec.Snapshot{}, false
	}
	return rec.Snapshot(), true
}

// StreamStatistic is the subset of a stream's counters exposed by
// get_stream_statistic.
type StreamStatistic struct {
	ReceiveCounter  uint64
	TransmitCounter uint64
	ReconnectCount  int
	FirstDataTime   time.Time
}

// GetStreamStatistic returns receive/transmit/reconnect counters for streamID.
func (m *Manager) GetStreamStatistic(streamID string) (StreamStatistic, bool) {
	rec, ok := m.lookup(streamID)
	if !ok {
		return StreamStatistic{}, false
	}
	snap := rec.Snapshot()
	return StreamStatistic{
		ReceiveCounter:  snap.ReceiveCounter,
		TransmitCounter: snap.TransmitCounter,
		ReconnectCount:  snap.ReconnectCount,
		FirstDataTime:   snap.StartTime,
	}, true
}

// GetStreamList returns every currently tracked stream's snapshot.
func (m *Manager) GetStreamList() []streamrec.Snapshot {
	m.mu.RLock()
	recs := make([]*streamrec.Record, 0, len(m.streams))
	for _, r := range m.streams {
		recs = append(recs, r)
	}
	m.mu.RUnlock()

	out := make([]streamrec.Snapshot, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Snapshot())
	}
	return out
}

// GetNumberOfSubscriptions returns |channels(S)| x |markets(S)| for streamID.
func (m *Manager) GetNumberOfSubscriptions(streamID string) (int, bool) {
	rec, ok := m.lookup(streamID)
	if !ok {
		return 0, false
	}
	rec.Mu.Lock()
	defer rec.Mu.Unlock()
	return len(rec.Config.Channels) * len(rec.Config.Markets), true
}

// GetCurrentReceivingSpeed returns streamID's receive count for the
// previous full second.
func (m *Manager) GetCurrentReceivingSpeed(streamID string) (int, bool) {
	rec, ok := m.lookup(streamID)
	if !ok {
		return 0, false
	}
	lastSecond := time.Now().Add(-time.Second).Unix()
	return rec.ReceivesInSecond(lastSecond), true
}

// GetCurrentReceivingSpeedGlobal returns the aggregate receive count
// across all streams for the previous full second, as maintained by
// the maintenance sweep.
func (m *Manager) GetCurrentReceivingSpeedGlobal() int {
	return m.sweeper.GlobalSnapshot().MostReceivesPerSecond()
}

// GetTotalReceivedBytes returns the manager-wide lifetime count of
// received bytes across every stream this Manager has ever owned
// (spec.md §5/§8: a global counter, never trimmed or windowed, unlike
// a stream's per-second byte histogram).
func (m *Manager) GetTotalReceivedBytes() int64 {
	return m.globals.TotalReceivedBytes.Load()
}

// GetTotalReceives returns the manager-wide lifetime receive count
// across every stream this Manager has ever owned (spec.md §8
// testable property 4: total_receives == Σ per-stream receives).
func (m *Manager) GetTotalReceives() uint64 {
	return m.globals.TotalReceives.Load()
}

// GetReconnects returns the manager-wide lifetime reconnect count
// across every stream this Manager has ever owned (spec.md §8
// testable property 5: reconnects == Σ per-stream reconnects).
func (m *Manager) GetReconnects() uint64 {
	return m.globals.TotalReconnects.Load()
}

// GetResultByRequestID implements spec.md §8 testable property 7:
// returns within timeout with either the matching result or none; it
// never returns a non-matching result.
func (m *Manager) GetResultByRequestID(requestID string, timeout time.Duration) (buffer.ResultEntry, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if entry, ok := m.results.Lookup(requestID); ok {
			return entry, true
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return buffer.ResultEntry{}, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// RecordResult files a REST-style response or error under requestID for
// later retrieval via GetResultByRequestID.
func (m *Manager) RecordResult(requestID string, payload any, err error) {
	m.results.Record(buffer.ResultEntry{RequestID: requestID, Payload: payload, Err: err})
}

// PopStreamDataFromStreamBuffer pops one frame from the named buffer
// (or the global buffer when name is empty) in the given pop mode.
func (m *Manager) PopStreamDataFromStreamBuffer(name string, mode buffer.PopMode) (any, bool) {
	var ring *buffer.Ring
	if name == "" {
		ring = m.dispatcher.GlobalBuffer()
	} else {
		ring = m.dispatcher.NamedBuffer(name)
	}
	return ring.Pop(mode)
}

// PopStreamDataFromStream pops one frame from streamID's own buffer
// (routing == RouteStreamBuffer).
func (m *Manager) PopStreamDataFromStream(streamID string, mode buffer.PopMode) (any, bool) {
	return m.dispatcher.StreamBuffer(streamID).Pop(mode)
}

// PopStreamSignalFromStreamSignalBuffer pops one lifecycle signal from
// the shared signal buffer.
func (m *Manager) PopStreamSignalFromStreamSignalBuffer() (signal.Signal, bool) {
	return m.signalBuffer.Pop()
}
