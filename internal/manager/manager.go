// Package manager implements the public façade of the stream
// supervisor, wiring every other internal package together. Its
// lifecycle discipline (a sourcegraph/conc.WaitGroup tracking every
// stream goroutine plus the maintenance goroutine) is grounded on the
// teacher's cmd/gateway main wiring and provider.Manager lifecycle
// context; its lock-then-snapshot query pattern is grounded on the
// teacher's shared.SubscriptionManager.
package manager

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/streamkeeper/internal/buffer"
	"github.com/coachpo/streamkeeper/internal/clockid"
	"github.com/coachpo/streamkeeper/internal/config"
	"github.com/coachpo/streamkeeper/internal/dispatch"
	"github.com/coachpo/streamkeeper/internal/errs"
	"github.com/coachpo/streamkeeper/internal/license"
	"github.com/coachpo/streamkeeper/internal/maintenance"
	"github.com/coachpo/streamkeeper/internal/observability"
	"github.com/coachpo/streamkeeper/internal/restsupport"
	"github.com/coachpo/streamkeeper/internal/signal"
	"github.com/coachpo/streamkeeper/internal/socket"
	"github.com/coachpo/streamkeeper/internal/streamrec"
	"github.com/coachpo/streamkeeper/internal/subscription"
	"github.com/coachpo/streamkeeper/internal/venue"
)

// defaultSignalBufferMaxLen and defaultResultIndexCap bound the signal
// buffer and the result index the Manager constructs for itself. The
// global, named and per-stream buffers are bounded by
// Options.StreamBufferMaxLen instead (0 means unbounded).
const (
	defaultSignalBufferMaxLen = 10000
	defaultResultIndexCap     = buffer.DefaultResultIndexCapacity
)

// StreamOptions configures one CreateStream call (spec.md §4.1, §3).
type StreamOptions struct {
	Label           string
	APIKey          string
	APISecret       string
	OutputDecoded   bool
	PingInterval    time.Duration
	PingTimeout     time.Duration
	CloseTimeout    time.Duration
	Routing         streamrec.Routing
	NamedBufferName string
	BufferMaxLen    int
	SyncCallback    dispatch.SyncFunc
	AsyncCallback   dispatch.AsyncFunc
	PerStreamQueue  chan socket.Frame
	DeleteListenKey bool
}

// Manager is the public façade described in spec.md §4.1.
type Manager struct {
	exchange string
	conn     venue.ConnectionInfo

	opts    config.Options
	dialer  socket.Dialer
	rest    restsupport.Client
	license license.Validator

	ids   clockid.IDGenerator
	clock clockid.Clock

	meter *observability.StreamMeter

	mu      sync.RWMutex
	streams map[string]*streamrec.Record
	cancels map[string]context.CancelFunc
	workers map[string]*socket.Worker

	dispatcher   *dispatch.Dispatcher
	signalBuffer *signal.BufferSink
	signalRing   *buffer.Ring
	results      *buffer.ResultIndex

	// globals tracks lifetime receive/reconnect totals across every
	// stream this Manager owns (spec.md §5/§8: total_receives and
	// reconnects are manager-wide, never trimmed).
	globals *streamrec.GlobalCounters

	sweeper *maintenance.Sweeper

	lifecycle   conc.WaitGroup
	stopOnce    sync.Once
	stopped     bool
	maintCancel context.CancelFunc
}

// Deps bundles the external collaborators a Manager is constructed with.
type Deps struct {
	Exchange          string
	ConnectionTable   *venue.Table
	ConnectionOverride *venue.ConnectionInfo
	Options           config.Options
	Dialer            socket.Dialer
	RESTClient        restsupport.Client
	License           license.Validator
	IDs               clockid.IDGenerator
	Clock             clockid.Clock
}

// New constructs a Manager, validating the exchange and license per
// spec.md §7's construction-error category.
func New(ctx context.Context, deps Deps) (*Manager, error) {
	table := deps.ConnectionTable
	if table == nil {
		table = venue.DefaultTable()
	}
	info, err := table.Lookup(deps.Exchange)
	if err != nil {
		return nil, err
	}
	if o, ok := deps.Options.ConnectionOverrides[strings.ToLower(strings.TrimSpace(deps.Exchange))]; ok {
		info = venue.Override(info, o.ToConnectionInfo())
	}
	if deps.ConnectionOverride != nil {
		info = venue.Override(info, *deps.ConnectionOverride)
	}

	lic := deps.License
	if lic == nil {
		lic = license.AllowAll{}
	}
	if err := lic.Validate(ctx, deps.Options.LicenseKey); err != nil {
		return nil, errs.New(errs.CategoryConstruction, errs.CodeInvalidLicense, errs.WithCause(err))
	}

	dialer := deps.Dialer
	if dialer == nil {
		var proxyCfg *socket.ProxyConfig
		if deps.Options.Proxy.Enabled {
			proxyCfg = &socket.ProxyConfig{
				Address:            deps.Options.Proxy.Address,
				Username:           deps.Options.Proxy.Username,
				Password:           deps.Options.Proxy.Password,
				InsecureSkipVerify: deps.Options.Proxy.InsecureSkipVerify,
			}
		}
		dialer = &socket.RealDialer{Proxy: proxyCfg}
	}

	ids := deps.IDs
	if ids == nil {
		ids = clockid.UUIDGenerator{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockid.SystemClock{}
	}

	streamBufferMax := deps.Options.StreamBufferMaxLen
	d := dispatch.New(streamBufferMax, streamBufferMax)

	m := &Manager{
		exchange:     strings.ToLower(strings.TrimSpace(deps.Exchange)),
		conn:         info,
		opts:         deps.Options,
		dialer:       dialer,
		rest:         deps.RESTClient,
		license:      lic,
		ids:          ids,
		clock:        clock,
		meter:        observability.NewStreamMeter(deps.Exchange),
		streams:      make(map[string]*streamrec.Record),
		cancels:      make(map[string]context.CancelFunc),
		workers:      make(map[string]*socket.Worker),
		dispatcher:   d,
		signalRing:   buffer.NewRing(defaultSignalBufferMaxLen),
		results:      buffer.NewResultIndex(defaultResultIndexCap),
		globals:      &streamrec.GlobalCounters{},
	}
	m.signalBuffer = signal.NewBufferSink(m.signalRing)

	m.sweeper = maintenance.NewSweeper(streamSourceAdapter{m}, deps.Options.AutoDataCleanupStoppedStreams)
	maintCtx, maintCancel := context.WithCancel(ctx)
	m.maintCancel = maintCancel
	m.lifecycle.Go(func() { m.sweeper.Run(maintCtx) })

	return m, nil
}

// streamSourceAdapter lets maintenance.Sweeper observe the stream table
// without internal/maintenance depending on internal/manager.
type streamSourceAdapter struct{ m *Manager }

func (a streamSourceAdapter) Streams() map[string]*streamrec.Record {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	out := make(map[string]*streamrec.Record, len(a.m.streams))
	for k, v := range a.m.streams {
		out[k] = v
	}
	return out
}

func (a streamSourceAdapter) RemoveStream(streamID string) {
	a.m.removeStream(streamID)
}

func (m *Manager) removeStream(streamID string) {
	m.mu.Lock()
	delete(m.streams, streamID)
	cancel, ok := m.cancels[streamID]
	delete(m.cancels, streamID)
	delete(m.workers, streamID)
	m.mu.Unlock()
	if ok {
		cancel()
	}
	m.dispatcher.RemoveStream(streamID)
}

// CreateStream implements spec.md §4.1's create_stream operation.
func (m *Manager) CreateStream(ctx context.Context, endpoint string, channels, markets []string, opts StreamOptions) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return "", errs.MissingEndpoint()
	}

	chanSet := toSet(channels)
	marketSet := toSetUpper(markets)

	id := m.ids.NewID()
	cfg := streamrec.Config{
		Endpoint:        endpoint,
		Channels:        chanSet,
		Markets:         marketSet,
		Label:           opts.Label,
		APIKey:          opts.APIKey,
		APISecret:       opts.APISecret,
		OutputDecoded:   opts.OutputDecoded,
		PingInterval:    firstNonZero(opts.PingInterval, m.opts.PingInterval()),
		PingTimeout:     firstNonZero(opts.PingTimeout, m.opts.PingTimeout()),
		CloseTimeout:    firstNonZero(opts.CloseTimeout, m.opts.CloseTimeout()),
		Routing:         opts.Routing,
		NamedBufferName: opts.NamedBufferName,
		BufferMaxLen:    opts.BufferMaxLen,
	}
	rec := streamrec.New(id, cfg)
	rec.Global = m.globals

	m.mu.Lock()
	m.streams[id] = rec
	m.mu.Unlock()

	m.dispatcher.RegisterStream(id, dispatch.Sink{
		PerStreamQueue:  opts.PerStreamQueue,
		SyncCallback:    opts.SyncCallback,
		AsyncCallback:   opts.AsyncCallback,
		Routing:         opts.Routing,
		NamedBufferName: opts.NamedBufferName,
	})

	uri := m.conn.URI(endpoint)
	enc := subscription.NewEncoder(m.conn.ArgLimit)

	sink := signal.SinkFunc(func(s signal.Signal) {
		rec.MarkSignal(s.Type.String())
		if m.opts.EnableStreamSignalBuffer {
			m.signalBuffer.Emit(s)
		}
	})

	onFrame := func(f socket.Frame) error {
		return m.dispatcher.Dispatch(f)
	}

	worker := socket.NewWorker(rec, uri, m.dialer, enc, sink, onFrame)
	worker.Meter = m.meter
	worker.Exchange = m.exchange
	if cfg.PingInterval > 0 {
		worker.PingInterval = cfg.PingInterval
	}
	if cfg.PingTimeout > 0 {
		worker.PingTimeout = cfg.PingTimeout
	}
	if cfg.CloseTimeout > 0 {
		worker.CloseTimeout = cfg.CloseTimeout
	}
	if rt := m.opts.RestartTimeout(); rt > 0 {
		worker.RestartTimeout = rt
	}

	streamCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[id] = cancel
	m.workers[id] = worker
	m.mu.Unlock()

	m.lifecycle.Go(func() {
		if err := worker.Run(streamCtx); err != nil {
			observability.Log().Error("stream worker exited unrepairably",
				observability.Field{Key: "stream_id", Value: id},
				observability.Field{Key: "error", Value: err.Error()})
		}
	})

	if m.opts.HighPerformance {
		return id, nil
	}

	select {
	case <-worker.Ready():
	case <-streamCtx.Done():
	case <-time.After(30 * time.Second):
	}

	return id, nil
}

// StopStream implements spec.md §4.1's stop_stream operation.
func (m *Manager) StopStream(ctx context.Context, streamID string, deleteListenKey bool) bool {
	rec, ok := m.lookup(streamID)
	if !ok {
		return false
	}
	rec.RequestStop()
	m.mu.RLock()
	cancel := m.cancels[streamID]
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	if deleteListenKey && m.rest != nil {
		go func() {
			defer func() { _ = recover() }()
			if _, _, err := m.rest.DeleteListenKey(ctx, streamID); err != nil {
				observability.Log().Error("delete listen key failed",
					observability.Field{Key: "stream_id", Value: streamID},
					observability.Field{Key: "error", Value: err.Error()})
			}
		}()
	}
	return true
}

// StopManager implements spec.md §4.1's stop_manager operation.
func (m *Manager) StopManager(ctx context.Context) {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		ids := make([]string, 0, len(m.streams))
		for id := range m.streams {
			ids = append(ids, id)
		}
		m.mu.Unlock()

		for _, id := range ids {
			m.StopStream(ctx, id, true)
		}
		if m.maintCancel != nil {
			m.maintCancel()
		}
		m.lifecycle.Wait()
	})
}

// SubscribeToStream implements spec.md §4.1's subscribe_to_stream
// operation, including the cap enforcement from SPEC_FULL.md §9 Open
// Question 4.
func (m *Manager) SubscribeToStream(streamID string, channels, markets []string) error {
	rec, ok := m.lookup(streamID)
	if !ok {
		return nil
	}

	rec.Mu.Lock()
	mergedChannels := unionSet(rec.Config.Channels, toSet(channels))
	mergedMarkets := unionSet(rec.Config.Markets, toSetUpper(markets))
	family := classifyFamily(rec.Config.Endpoint)
	limit := m.conn.MaxSubscriptionsPerStream[family]
	requested := len(mergedChannels) * len(mergedMarkets)
	if limit > 0 && requested > limit {
		rec.Mu.Unlock()
		return errs.SubscriptionCapExceeded(streamID, limit, requested)
	}
	rec.Config.Channels = mergedChannels
	rec.Config.Markets = mergedMarkets
	rec.Mu.Unlock()

	enc := subscription.NewEncoder(m.conn.ArgLimit)
	payloads := enc.Encode(subscription.MethodSubscribe, mergedChannels, mergedMarkets)
	for _, p := range payloads {
		raw, err := marshalPayload(p)
		if err != nil {
			continue
		}
		rec.EnqueuePending(raw)
	}
	return nil
}

// UnsubscribeFromStream is rejected at the API boundary per
// SPEC_FULL.md §9 Open Question 1.
func (m *Manager) UnsubscribeFromStream(_ string, _, _ []string) error {
	return errs.UnsupportedUnsubscribe()
}

// SendWithStream implements spec.md §4.1's send_with_stream operation:
// it waits up to timeout for the socket to become ready, then
// schedules the write onto the stream's own worker.
func (m *Manager) SendWithStream(ctx context.Context, streamID string, payload []byte, timeout time.Duration) error {
	rec, ok := m.lookup(streamID)
	if !ok {
		return errs.New(errs.CategoryCaller, errs.CodeMissingEndpoint, errs.WithStream(streamID), errs.WithMessage("unknown stream id"))
	}
	if rec.IsTerminal() {
		return errs.New(errs.CategoryCaller, errs.CodeUnsupportedOp, errs.WithStream(streamID), errs.WithMessage("stream is stopping or crashed"))
	}

	m.mu.RLock()
	worker := m.workers[streamID]
	m.mu.RUnlock()
	if worker == nil {
		return errs.New(errs.CategoryCaller, errs.CodeMissingEndpoint, errs.WithStream(streamID), errs.WithMessage("stream has no live worker"))
	}

	sendCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-worker.Ready():
	case <-sendCtx.Done():
		return errs.New(errs.CategoryTransient, errs.CodeNetwork, errs.WithStream(streamID), errs.WithMessage("timed out waiting for socket ready"))
	}

	if err := worker.Send(sendCtx, payload); err != nil {
		return err
	}
	return nil
}

func (m *Manager) lookup(streamID string) (*streamrec.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.streams[streamID]
	return rec, ok
}
