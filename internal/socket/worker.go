package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/streamkeeper/internal/observability"
	"github.com/coachpo/streamkeeper/internal/signal"
	"github.com/coachpo/streamkeeper/internal/streamrec"
	"github.com/coachpo/streamkeeper/internal/subscription"
	"github.com/coachpo/streamkeeper/internal/supervisor"
)

const (
	defaultReadLimit          = 4 * 1024 * 1024
	defaultMaxReconnectWait   = 30 * time.Second
	defaultControlRateLimit   = rate.Limit(4) // 4 control frames/sec, matches the 250ms pacing window
	defaultControlBurst       = 1
	defaultRestartTimeout     = 6 * time.Second
)

// Frame is one received application-level message, raw or decoded per
// the stream's output mode.
type Frame struct {
	StreamID string
	Raw      []byte
	Decoded  any
	Received time.Time
}

// FrameHandler routes a received frame through the ingress dispatcher.
// Implementations must not block indefinitely (spec.md §5: "No lock is
// ever held across user-callback invocations").
type FrameHandler func(Frame) error

// Worker runs the connect/subscribe/read/write/heartbeat cycle for
// exactly one stream, grounded on the teacher's streamManager.connect.
type Worker struct {
	Record *streamrec.Record

	URI          string
	Dialer       Dialer
	Encoder      *subscription.Encoder
	SignalSink   signal.Sink
	OnFrame      FrameHandler
	Meter        *observability.StreamMeter
	Exchange     string

	PingInterval  time.Duration
	PingTimeout   time.Duration
	CloseTimeout  time.Duration
	ReadLimit     int64
	RestartTimeout time.Duration

	readyOnce sync.Once
	readyCh   chan struct{}

	limiterMu sync.Mutex
	limiter   *rate.Limiter

	connMu sync.RWMutex
	conn   Conn
}

// NewWorker builds a Worker for rec, dialing uri through dialer.
func NewWorker(rec *streamrec.Record, uri string, dialer Dialer, encoder *subscription.Encoder, sink signal.Sink, onFrame FrameHandler) *Worker {
	return &Worker{
		Record:         rec,
		URI:            uri,
		Dialer:         dialer,
		Encoder:        encoder,
		SignalSink:     sink,
		OnFrame:        onFrame,
		PingInterval:   30 * time.Second,
		PingTimeout:    5 * time.Second,
		CloseTimeout:   5 * time.Second,
		ReadLimit:      defaultReadLimit,
		RestartTimeout: defaultRestartTimeout,
		readyCh:        make(chan struct{}),
		limiter:        rate.NewLimiter(defaultControlRateLimit, defaultControlBurst),
	}
}

// Ready returns a channel closed once the socket has completed its
// first successful connect-and-subscribe cycle.
func (w *Worker) Ready() <-chan struct{} {
	return w.readyCh
}

// Send enqueues payload for the live connection, or queues it on the
// record for the worker to drain once a socket becomes ready
// (spec.md §4.2 step 4, §4.1 subscribe_to_stream/send_with_stream).
func (w *Worker) Send(ctx context.Context, payload []byte) error {
	w.connMu.RLock()
	conn := w.conn
	w.connMu.RUnlock()
	if conn == nil {
		w.Record.EnqueuePending(payload)
		return nil
	}
	if err := w.waitForControlWindow(ctx); err != nil {
		w.Record.EnqueuePending(payload)
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, w.CloseTimeout+2*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, MessageText, payload); err != nil {
		w.Record.EnqueuePending(payload)
		return err
	}
	w.Record.RecordTransmit()
	return nil
}

func (w *Worker) waitForControlWindow(ctx context.Context) error {
	w.limiterMu.Lock()
	limiter := w.limiter
	w.limiterMu.Unlock()
	return limiter.Wait(ctx)
}

// Run drives the reconnect loop until ctx is cancelled or the stream
// is terminally stopped/crashed. It never returns a non-nil error for
// a clean, caller-requested shutdown.
func (w *Worker) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	ceiling := w.RestartTimeout
	if ceiling <= 0 {
		ceiling = defaultMaxReconnectWait
	}
	bo.MaxInterval = ceiling

	for {
		if ctx.Err() != nil {
			return nil
		}
		if stop := w.Record.StopRequested(); stop {
			w.emitStop()
			return nil
		}
		if crash, reason := w.Record.CrashRequested(); crash {
			w.emitUnrepairable(errors.New(reason))
			return nil
		}

		w.Record.SetStatus(streamrec.StatusStarting, "")
		epochErr := w.runEpoch(ctx)

		cancelled := ctx.Err() != nil
		stopRequested := w.Record.StopRequested()
		crashRequested, crashReason := w.Record.CrashRequested()
		class := supervisor.Classify(epochErr, cancelled, stopRequested, crashRequested, crashReason)

		switch class.Action {
		case supervisor.ActionStop:
			w.emitStop()
			return nil
		case supervisor.ActionCrash:
			crashErr := epochErr
			if crashErr == nil {
				crashErr = errors.New(class.Reason)
			}
			w.Record.RequestCrash(class.Reason)
			w.emitUnrepairable(crashErr)
			return crashErr
		}

		if epochErr == nil {
			continue
		}

		w.Record.SetStatus(streamrec.StatusRestarting, "")
		w.Record.RecordReconnect(time.Now())
		w.SignalSink.Emit(signal.Signal{
			Type:              signal.Disconnect,
			StreamID:          w.Record.ID,
			Timestamp:         time.Now(),
			LastReceivedData:  w.Record.Snapshot().LastReceivedRecord,
			Err:               epochErr,
		})
		w.Record.MarkSignal(signal.Disconnect.String())
		if w.Meter != nil {
			w.Meter.RecordReconnect(ctx, w.Record.ID, "restarting")
		}

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = ceiling
		}
		select {
		case <-ctx.Done():
			w.emitStop()
			return nil
		case <-time.After(sleep):
		}
	}
}

// runEpoch performs one dial-subscribe-read/write cycle, returning nil
// for a clean shutdown and an error for any condition that should
// trigger a restart.
func (w *Worker) runEpoch(ctx context.Context) error {
	w.Record.BeginEpoch(w.URI)

	conn, err := w.Dialer.Dial(ctx, w.URI)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.URI, err)
	}
	conn.SetReadLimit(w.ReadLimit)

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
	defer func() {
		w.connMu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.connMu.Unlock()
		_ = conn.Close("")
	}()

	if err := w.sendInitialSubscriptions(ctx, conn); err != nil {
		return err
	}

	w.SignalSink.Emit(signal.Signal{Type: signal.Connect, StreamID: w.Record.ID, Timestamp: time.Now()})
	w.Record.MarkSignal(signal.Connect.String())
	w.Record.SetStatus(streamrec.StatusRunning, "")

	w.readyOnce.Do(func() { close(w.readyCh) })

	if err := w.drainPending(ctx, conn); err != nil {
		return err
	}

	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- w.readLoop(epochCtx, conn)
	}()
	go func() {
		defer wg.Done()
		errCh <- w.pingLoop(epochCtx, conn)
	}()

	first := <-errCh
	cancel()
	wg.Wait()
	close(errCh)
	for range errCh {
	}

	if first == nil || errors.Is(first, context.Canceled) {
		return nil
	}
	return first
}

func (w *Worker) sendInitialSubscriptions(ctx context.Context, conn Conn) error {
	cfg := w.Record.Config
	payloads := w.Encoder.Encode(subscription.MethodSubscribe, cfg.Channels, cfg.Markets)
	for _, p := range payloads {
		if err := w.waitForControlWindow(ctx); err != nil {
			return err
		}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal subscribe payload: %w", err)
		}
		writeCtx, cancel := context.WithTimeout(ctx, w.CloseTimeout+2*time.Second)
		err = conn.Write(writeCtx, MessageText, data)
		cancel()
		if err != nil {
			return fmt.Errorf("write subscribe payload: %w", err)
		}
		w.Record.RecordTransmit()
		if w.Meter != nil {
			w.Meter.RecordControl(ctx, w.Record.ID, len(p.Args))
		}
	}
	return nil
}

func (w *Worker) drainPending(ctx context.Context, conn Conn) error {
	for _, payload := range w.Record.DrainPending() {
		if err := w.waitForControlWindow(ctx); err != nil {
			return err
		}
		writeCtx, cancel := context.WithTimeout(ctx, w.CloseTimeout+2*time.Second)
		err := conn.Write(writeCtx, MessageText, payload)
		cancel()
		if err != nil {
			return fmt.Errorf("write pending payload: %w", err)
		}
		w.Record.RecordTransmit()
	}
	return nil
}

func (w *Worker) pingLoop(ctx context.Context, conn Conn) error {
	if w.PingInterval <= 0 {
		<-ctx.Done()
		return context.Canceled
	}
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			if err := w.waitForControlWindow(ctx); err != nil {
				return err
			}
			pingCtx, cancel := context.WithTimeout(ctx, w.PingTimeout)
			start := time.Now()
			err := conn.Ping(pingCtx)
			cancel()
			result := "success"
			if err != nil {
				result = "error"
			}
			if w.Meter != nil {
				w.Meter.RecordPing(ctx, w.Record.ID, time.Since(start), result)
			}
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return context.Canceled
				}
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (w *Worker) readLoop(ctx context.Context, conn Conn) error {
	cfg := w.Record.Config
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			if status := CloseStatus(err); status != -1 {
				if status == 1000 {
					return fmt.Errorf("read: peer closed normally: %w", err)
				}
				return fmt.Errorf("read: remote closed with status %d: %w", status, err)
			}
			return fmt.Errorf("read: %w", err)
		}
		if typ != MessageText {
			continue
		}

		now := time.Now()
		w.Record.RecordReceive(now, len(data), data)
		if w.Meter != nil {
			w.Meter.RecordMessage(ctx, w.Record.ID, len(data))
		}

		if w.Record.MarkFirstDataIfNeeded() {
			w.SignalSink.Emit(signal.Signal{
				Type:               signal.FirstReceivedData,
				StreamID:           w.Record.ID,
				Timestamp:          now,
				FirstReceivedData:  data,
			})
			w.Record.MarkSignal(signal.FirstReceivedData.String())
		}

		frame := Frame{StreamID: w.Record.ID, Raw: data, Received: now}
		if cfg.OutputDecoded {
			var decoded any
			if err := json.Unmarshal(data, &decoded); err == nil {
				frame.Decoded = decoded
			}
		}
		if w.OnFrame != nil {
			if err := w.OnFrame(frame); err != nil {
				w.Record.RequestCrash("consumer error: " + err.Error())
				return nil
			}
		}
	}
}

func (w *Worker) emitStop() {
	w.Record.SetStatus(streamrec.StatusStopped, "")
	w.SignalSink.Emit(signal.Signal{Type: signal.Stop, StreamID: w.Record.ID, Timestamp: time.Now()})
	w.Record.MarkSignal(signal.Stop.String())
}

func (w *Worker) emitUnrepairable(err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	w.Record.SetStatus(streamrec.StatusCrashed, reason)
	w.SignalSink.Emit(signal.Signal{Type: signal.StreamUnrepairable, StreamID: w.Record.ID, Timestamp: time.Now(), Err: err})
	w.Record.MarkSignal(signal.StreamUnrepairable.String())
}
