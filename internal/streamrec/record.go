// Package streamrec holds the per-stream mutable Record, grounded on
// the teacher's streamManager struct (one mutex-guarded struct per
// connection) generalized to the stream-record shape of spec.md §3.
package streamrec

import (
	"sync"
	"sync/atomic"
	"time"
)

// GlobalCounters aggregates lifetime receive/reconnect totals across
// every stream a Manager owns, matching the original implementation's
// manager-level total_receives/total_received_bytes/reconnects
// (dedicated-lock globals in the Python source, here lock-free
// atomics). Unlike a Record's per-second histograms, these never
// decay or get trimmed by the maintenance sweep.
type GlobalCounters struct {
	TotalReceives      atomic.Uint64
	TotalReceivedBytes atomic.Int64
	TotalReconnects    atomic.Uint64
}

// Status is the per-stream lifecycle state (spec.md §4.5).
type Status int

const (
	StatusStarting Status = iota
	StatusRunning
	StatusRestarting
	StatusStopped
	StatusCrashed
)

// String returns the symbolic status name. Crashed statuses append
// their reason via Record.StatusString, not here, since Status itself
// carries no payload.
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusRestarting:
		return "restarting"
	case StatusStopped:
		return "stopped"
	case StatusCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Routing selects where received frames for this stream are sent
// (spec.md §3 "buffer routing").
type Routing int

const (
	RouteGlobalBuffer Routing = iota
	RouteStreamBuffer
	RouteNamedBuffer
	RouteCallback
)

// Config is the immutable-after-create configuration of a stream
// (spec.md §3, first bullet).
type Config struct {
	Endpoint         string
	Channels         map[string]struct{}
	Markets          map[string]struct{}
	Label            string
	APIKey           string
	APISecret        string
	OutputDecoded    bool
	PingInterval     time.Duration
	PingTimeout      time.Duration
	CloseTimeout     time.Duration
	Routing          Routing
	NamedBufferName  string
	BufferMaxLen     int
	SyncCallback     func(any)
	AsyncCallback    func(any)
}

// Snapshot is a point-in-time, lock-free copy of a Record's mutable
// state for query-surface consumers (spec.md §5: "never invokes user
// code while holding [the stream-list] lock").
type Snapshot struct {
	StreamID            string
	Status              Status
	CrashReason         string
	SubscriptionCount   int
	FirstDataReceived   bool
	LastHeartbeat       time.Time
	StartTime           time.Time
	StopTime            time.Time
	ReconnectCount      int
	LoggedReconnects    []time.Time
	ReceiveCounter      uint64
	TransmitCounter     uint64
	LastReceivedRecord  any
	CurrentURI          string
	StopRequested       bool
	CrashRequested      bool
	LastSignalType      string
}

// Record is the mutable per-stream state the Manager, Supervisor, and
// Socket Worker all read and update under Mu. Exactly one goroutine
// (the Supervisor Loop for this stream) ever transitions Status.
type Record struct {
	Mu sync.Mutex

	ID     string
	Config Config

	// Global, when set by the owning Manager, receives every receive
	// and reconnect this record logs, in addition to its own
	// per-stream bookkeeping below.
	Global *GlobalCounters

	status      Status
	crashReason string

	firstDataReceived bool
	lastHeartbeat     time.Time
	startTime         time.Time
	stopTime          time.Time

	reconnectCount   int
	loggedReconnects []time.Time

	pendingPayloads [][]byte

	receiveCounter  uint64
	transmitCounter uint64

	recvHistogram  map[int64]int // unix-second -> frame count
	byteHistogram  map[int64]int64

	lastReceivedRecord any
	currentURI         string

	stopRequested  bool
	crashRequested bool

	lastSignalType string
}

// New builds a Record in StatusStarting for the given id and config.
func New(id string, cfg Config) *Record {
	return &Record{
		ID:            id,
		Config:        cfg,
		status:        StatusStarting,
		startTime:     time.Now(),
		recvHistogram: make(map[int64]int),
		byteHistogram: make(map[int64]int64),
	}
}

// SetStatus transitions status, rejecting any attempt to leave a
// terminal state (spec.md §3 invariant: "monotonic only in the
// terminal sense").
func (r *Record) SetStatus(s Status, crashReason string) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.status == StatusStopped || r.status == StatusCrashed {
		return
	}
	r.status = s
	r.crashReason = crashReason
	if s == StatusStopped || s == StatusCrashed {
		r.stopTime = time.Now()
	}
}

// StatusString renders "crashed:<reason>" when crashed, or the plain
// status name otherwise.
func (r *Record) StatusString() string {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.status == StatusCrashed && r.crashReason != "" {
		return r.status.String() + ":" + r.crashReason
	}
	return r.status.String()
}

// IsTerminal reports whether the stream is stopped or crashed.
func (r *Record) IsTerminal() bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.status == StatusStopped || r.status == StatusCrashed
}

// RequestStop marks the stream for graceful shutdown.
func (r *Record) RequestStop() {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.stopRequested = true
}

// RequestCrash marks the stream for immediate, terminal failure.
func (r *Record) RequestCrash(reason string) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.crashRequested = true
	r.crashReason = reason
}

// StopRequested reports whether a graceful stop has been requested.
func (r *Record) StopRequested() bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.stopRequested
}

// CrashRequested reports whether an immediate crash has been requested,
// along with its reason.
func (r *Record) CrashRequested() (bool, string) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.crashRequested, r.crashReason
}

// MarkSignal records the most recent signal type emitted for this
// stream (spec.md §4.6: "Every transition records last_stream_signal").
func (r *Record) MarkSignal(signalType string) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.lastSignalType = signalType
}

// BeginEpoch resets per-connection-epoch state ahead of a fresh
// connect attempt (spec.md glossary: "each epoch emits at most one
// CONNECT and at most one FIRST_RECEIVED_DATA").
func (r *Record) BeginEpoch(uri string) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.firstDataReceived = false
	r.currentURI = uri
}

// MarkFirstDataIfNeeded reports true the first time it's called within
// an epoch, false on every subsequent call.
func (r *Record) MarkFirstDataIfNeeded() bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.firstDataReceived {
		return false
	}
	r.firstDataReceived = true
	return true
}

// RecordReceive updates receive counters, the per-second histograms,
// the heartbeat, and the last-received record.
func (r *Record) RecordReceive(now time.Time, byteLen int, record any) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.receiveCounter++
	r.lastHeartbeat = now
	r.lastReceivedRecord = record
	sec := now.Unix()
	r.recvHistogram[sec]++
	r.byteHistogram[sec] += int64(byteLen)
	if r.Global != nil {
		r.Global.TotalReceives.Add(1)
		r.Global.TotalReceivedBytes.Add(int64(byteLen))
	}
}

// RecordTransmit increments the transmit counter.
func (r *Record) RecordTransmit() {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.transmitCounter++
}

// RecordReconnect increments the reconnect counter and appends ts to
// the logged-reconnects list.
func (r *Record) RecordReconnect(ts time.Time) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.reconnectCount++
	r.loggedReconnects = append(r.loggedReconnects, ts)
	if r.Global != nil {
		r.Global.TotalReconnects.Add(1)
	}
}

// EnqueuePending appends a payload for the worker to drain once the
// socket is next ready.
func (r *Record) EnqueuePending(payload []byte) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.pendingPayloads = append(r.pendingPayloads, payload)
}

// DrainPending removes and returns all pending payloads.
func (r *Record) DrainPending() [][]byte {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if len(r.pendingPayloads) == 0 {
		return nil
	}
	out := r.pendingPayloads
	r.pendingPayloads = nil
	return out
}

// TrimHistogramsBefore drops histogram buckets older than cutoff,
// implementing the maintenance sweep's bound on histogram size
// (spec.md §8 testable property 8).
func (r *Record) TrimHistogramsBefore(cutoff int64) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	for sec := range r.recvHistogram {
		if sec < cutoff {
			delete(r.recvHistogram, sec)
		}
	}
	for sec := range r.byteHistogram {
		if sec < cutoff {
			delete(r.byteHistogram, sec)
		}
	}
}

// ReceivesInSecond returns the frame count recorded for the given
// unix-second bucket.
func (r *Record) ReceivesInSecond(sec int64) int {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.recvHistogram[sec]
}

// BytesInSecond returns the byte total recorded for the given
// unix-second bucket.
func (r *Record) BytesInSecond(sec int64) int64 {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.byteHistogram[sec]
}

// Snapshot returns a lock-free copy of the record's mutable state.
func (r *Record) Snapshot() Snapshot {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	reconnects := make([]time.Time, len(r.loggedReconnects))
	copy(reconnects, r.loggedReconnects)

	return Snapshot{
		StreamID:           r.ID,
		Status:             r.status,
		CrashReason:        r.crashReason,
		SubscriptionCount:  len(r.Config.Channels) * len(r.Config.Markets),
		FirstDataReceived:  r.firstDataReceived,
		LastHeartbeat:      r.lastHeartbeat,
		StartTime:          r.startTime,
		StopTime:           r.stopTime,
		ReconnectCount:     r.reconnectCount,
		LoggedReconnects:   reconnects,
		ReceiveCounter:     r.receiveCounter,
		TransmitCounter:    r.transmitCounter,
		LastReceivedRecord: r.lastReceivedRecord,
		CurrentURI:         r.currentURI,
		StopRequested:      r.stopRequested,
		CrashRequested:     r.crashRequested,
		LastSignalType:     r.lastSignalType,
	}
}
