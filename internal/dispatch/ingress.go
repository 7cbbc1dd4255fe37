// Package dispatch implements the Ingress Dispatcher of spec.md §4.3:
// for every received frame, select exactly one sink by priority.
// Grounded on the teacher's pkg/dispatcher.Fanout for the worker-pool
// async-callback scheduling idiom (sourcegraph/conc/pool, panic
// recovery per delivery) and on shared.SubscriptionManager's
// lock-snapshot-then-call-outside-lock discipline.
package dispatch

import (
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/streamkeeper/internal/buffer"
	"github.com/coachpo/streamkeeper/internal/observability"
	"github.com/coachpo/streamkeeper/internal/socket"
	"github.com/coachpo/streamkeeper/internal/streamrec"
)

// SyncFunc is a per-stream synchronous callback, invoked inline on the
// socket worker's goroutine (spec.md §4.3 case 3).
type SyncFunc func(frame socket.Frame, bufferName string) error

// AsyncFunc is a per-stream asynchronous callback, scheduled on a
// worker-limited pool so a slow consumer never blocks a different
// stream's read loop (spec.md §4.3 case 4). Cases 1/2 use channels
// instead.
type AsyncFunc func(frame socket.Frame) error

// Sink describes one stream's configured ingress routing, set at
// create time per spec.md §9 REDESIGN FLAGS ("a small tagged sum type
// per stream... set at create time; dispatcher is a single match").
type Sink struct {
	// PerStreamQueue, if non-nil, is this stream's dedicated consumer
	// queue (case 1).
	PerStreamQueue chan socket.Frame
	// SyncCallback, if set, is invoked inline (case 3).
	SyncCallback SyncFunc
	// AsyncCallback, if set, is scheduled on the shared pool (case 4).
	AsyncCallback AsyncFunc
	// Routing selects the buffer target when no callback/queue applies
	// (case 5).
	Routing         streamrec.Routing
	NamedBufferName string
}

// Dispatcher routes received frames to exactly one sink per the
// priority order of spec.md §4.3.
type Dispatcher struct {
	mu    sync.RWMutex
	sinks map[string]Sink

	globalQueue chan socket.Frame

	globalBuffer *buffer.Ring
	namedBuffers *buffer.Registry
	streamBuffers *buffer.Registry

	asyncPool *pool.Pool
}

// New builds a Dispatcher. globalMaxLen bounds the global and named
// buffers; streamMaxLen bounds per-stream buffers.
func New(globalMaxLen, streamMaxLen int) *Dispatcher {
	return &Dispatcher{
		sinks:         make(map[string]Sink),
		globalBuffer:  buffer.NewRing(globalMaxLen),
		namedBuffers:  buffer.NewRegistry(globalMaxLen),
		streamBuffers: buffer.NewRegistry(streamMaxLen),
		asyncPool:     pool.New().WithMaxGoroutines(runtime.GOMAXPROCS(0)),
	}
}

// SetGlobalAsyncQueue registers a global async consumer queue, used
// per spec.md §4.3 case 2 for streams with no more specific routing.
func (d *Dispatcher) SetGlobalAsyncQueue(q chan socket.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.globalQueue = q
}

// RegisterStream installs sink for streamID. Call once at stream
// creation; the routing choice is immutable for the stream's lifetime.
func (d *Dispatcher) RegisterStream(streamID string, sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[streamID] = sink
}

// RemoveStream drops streamID's sink and per-stream buffer, called on
// stream GC (spec.md §8 scenario e).
func (d *Dispatcher) RemoveStream(streamID string) {
	d.mu.Lock()
	delete(d.sinks, streamID)
	d.mu.Unlock()
	d.streamBuffers.Remove(streamID)
}

// Dispatch selects exactly one sink for frame and invokes it, per the
// priority order in spec.md §4.3.
func (d *Dispatcher) Dispatch(frame socket.Frame) error {
	d.mu.RLock()
	sink, ok := d.sinks[frame.StreamID]
	globalQueue := d.globalQueue
	d.mu.RUnlock()

	if !ok {
		sink = Sink{}
	}

	// Case 1: per-stream async consumer queue.
	if sink.PerStreamQueue != nil {
		select {
		case sink.PerStreamQueue <- frame:
		default:
			// Consumer is behind; dropping here is preferable to
			// blocking the socket worker's read loop indefinitely.
		}
		return nil
	}

	// Case 2: global async consumer, only if no stream-specific
	// callback is configured.
	if globalQueue != nil && sink.SyncCallback == nil && sink.AsyncCallback == nil {
		select {
		case globalQueue <- frame:
		default:
		}
		return nil
	}

	// Case 3: per-stream sync callback, invoked inline.
	if sink.SyncCallback != nil {
		bufferName := sink.NamedBufferName
		if sink.Routing == streamrec.RouteStreamBuffer {
			bufferName = frame.StreamID
		}
		return sink.SyncCallback(frame, bufferName)
	}

	// Case 4: per-stream async callback, scheduled on the shared pool.
	if sink.AsyncCallback != nil {
		cb := sink.AsyncCallback
		d.asyncPool.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					observability.Log().Error("async callback panic",
						observability.Field{Key: "stream_id", Value: frame.StreamID},
						observability.Field{Key: "recover", Value: r})
				}
			}()
			if err := cb(frame); err != nil {
				observability.Log().Error("async callback error",
					observability.Field{Key: "stream_id", Value: frame.StreamID},
					observability.Field{Key: "error", Value: err.Error()})
			}
		})
		return nil
	}

	// Case 5: append to the routing target buffer.
	switch sink.Routing {
	case streamrec.RouteNamedBuffer:
		d.namedBuffers.GetOrCreate(sink.NamedBufferName).Push(frame)
	case streamrec.RouteStreamBuffer:
		d.streamBuffers.GetOrCreate(frame.StreamID).Push(frame)
	default:
		d.globalBuffer.Push(frame)
	}
	return nil
}

// GlobalBuffer returns the shared global buffer.
func (d *Dispatcher) GlobalBuffer() *buffer.Ring { return d.globalBuffer }

// NamedBuffer returns (creating if needed) the named buffer.
func (d *Dispatcher) NamedBuffer(name string) *buffer.Ring { return d.namedBuffers.GetOrCreate(name) }

// StreamBuffer returns (creating if needed) the per-stream buffer.
func (d *Dispatcher) StreamBuffer(streamID string) *buffer.Ring {
	return d.streamBuffers.GetOrCreate(streamID)
}
