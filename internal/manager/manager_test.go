package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coachpo/streamkeeper/internal/buffer"
	"github.com/coachpo/streamkeeper/internal/config"
	"github.com/coachpo/streamkeeper/internal/socket"
	"github.com/coachpo/streamkeeper/internal/streamrec"
	"github.com/coachpo/streamkeeper/internal/venue"
)

type readResult struct {
	typ  socket.MessageType
	data []byte
	err  error
}

type fakeConn struct {
	mu     sync.Mutex
	reads  chan readResult
	writes [][]byte
}

func newFakeConn(buffered int) *fakeConn {
	return &fakeConn{reads: make(chan readResult, buffered)}
}

func (c *fakeConn) Read(ctx context.Context) (socket.MessageType, []byte, error) {
	select {
	case r := <-c.reads:
		return r.typ, r.data, r.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ socket.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) Ping(ctx context.Context) error      { return nil }
func (c *fakeConn) Close(reason string) error           { return nil }
func (c *fakeConn) SetReadLimit(limit int64)            {}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
}

func (d *fakeDialer) Dial(ctx context.Context, uri string) (socket.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.calls
	d.calls++
	if idx < len(d.conns) {
		return d.conns[idx], nil
	}
	return newFakeConn(0), nil
}

func testTable() *venue.Table {
	return venue.NewTable(map[string]venue.ConnectionInfo{
		"bybit": {
			BaseURI:    "wss://example",
			APIVersion: "v5",
			ArgLimit:   350,
			MaxSubscriptionsPerStream: map[venue.MarketFamily]int{
				venue.FamilySpot: 4,
			},
		},
	})
}

func newTestManager(t *testing.T, dialer socket.Dialer) *Manager {
	t.Helper()
	m, err := New(context.Background(), Deps{
		Exchange:        "bybit",
		ConnectionTable: testTable(),
		Options:         config.Default(),
		Dialer:          dialer,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing manager: %v", err)
	}
	t.Cleanup(func() { m.StopManager(context.Background()) })
	return m
}

func TestNewRejectsUnknownExchange(t *testing.T) {
	_, err := New(context.Background(), Deps{
		Exchange:        "nonexistent",
		ConnectionTable: testTable(),
		Options:         config.Default(),
	})
	if err == nil {
		t.Fatalf("expected an error for an unknown exchange")
	}
}

func TestCreateStreamRejectsMissingEndpoint(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})
	_, err := m.CreateStream(context.Background(), "", []string{"trade"}, []string{"btcusdt"}, StreamOptions{})
	if err == nil {
		t.Fatalf("expected a missing-endpoint error")
	}
}

func TestCreateStreamReturnsIDAfterSocketReady(t *testing.T) {
	conn := newFakeConn(1)
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	m := newTestManager(t, dialer)

	id, err := m.CreateStream(context.Background(), "public/spot", []string{"trade"}, []string{"btcusdt"}, StreamOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty stream id")
	}
	snap, ok := m.GetStreamInfo(id)
	if !ok {
		t.Fatalf("expected stream info to be present")
	}
	if snap.Status != streamrec.StatusRunning {
		t.Fatalf("expected running status, got %v", snap.Status)
	}
}

func TestCreateStreamHighPerformanceReturnsImmediately(t *testing.T) {
	dialer := &fakeDialer{} // no scripted conns: Dial hands out an idle conn that never delivers a frame
	opts := config.Default()
	opts.HighPerformance = true
	m, err := New(context.Background(), Deps{
		Exchange:        "bybit",
		ConnectionTable: testTable(),
		Options:         opts,
		Dialer:          dialer,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.StopManager(context.Background())

	start := time.Now()
	id, err := m.CreateStream(context.Background(), "public/spot", []string{"trade"}, []string{"btcusdt"}, StreamOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a stream id from a high_performance create")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("expected create_stream to return immediately under high_performance")
	}
}

func TestSubscribeToStreamMergesAndCapsSubscriptions(t *testing.T) {
	conn := newFakeConn(1)
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	m := newTestManager(t, dialer)

	id, err := m.CreateStream(context.Background(), "public/spot", []string{"trade"}, []string{"btcusdt"}, StreamOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n, ok := m.GetNumberOfSubscriptions(id); !ok || n != 1 {
		t.Fatalf("expected 1 initial subscription, got %d (ok=%v)", n, ok)
	}

	if err := m.SubscribeToStream(id, []string{"kline.1"}, []string{"ethusdt"}); err != nil {
		t.Fatalf("unexpected error merging subscriptions: %v", err)
	}
	if n, ok := m.GetNumberOfSubscriptions(id); !ok || n != 4 {
		t.Fatalf("expected 4 subscriptions (2 channels x 2 markets), got %d", n)
	}

	// Pushing past the configured cap (4) for this exchange must fail
	// and leave the existing subscriptions untouched.
	err = m.SubscribeToStream(id, []string{"liquidation"}, []string{"solusdt"})
	if err == nil {
		t.Fatalf("expected a subscription cap error")
	}
	if n, ok := m.GetNumberOfSubscriptions(id); !ok || n != 4 {
		t.Fatalf("expected subscription count to remain 4 after a rejected merge, got %d", n)
	}
}

func TestUnsubscribeFromStreamIsRejected(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})
	if err := m.UnsubscribeFromStream("whatever", nil, nil); err == nil {
		t.Fatalf("expected unsubscribe to be rejected at the API boundary")
	}
}

func TestStopStreamOnUnknownIDReturnsFalse(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})
	if m.StopStream(context.Background(), "does-not-exist", false) {
		t.Fatalf("expected false for an unknown stream id")
	}
}

func TestGetStreamListOmitsRemovedStreams(t *testing.T) {
	conn := newFakeConn(1)
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	m := newTestManager(t, dialer)

	id, err := m.CreateStream(context.Background(), "public/spot", []string{"trade"}, []string{"btcusdt"}, StreamOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.GetStreamList()) != 1 {
		t.Fatalf("expected 1 stream in the list")
	}

	m.removeStream(id)
	if len(m.GetStreamList()) != 0 {
		t.Fatalf("expected the stream list to be empty after removal")
	}
}

func TestResultIndexRoundTripsByRequestID(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})
	m.RecordResult("req-1", map[string]string{"ok": "true"}, nil)

	entry, ok := m.GetResultByRequestID("req-1", 100*time.Millisecond)
	if !ok {
		t.Fatalf("expected to find the recorded result")
	}
	if entry.RequestID != "req-1" {
		t.Fatalf("expected request id req-1, got %q", entry.RequestID)
	}
}

func TestGetResultByRequestIDTimesOutOnMiss(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})
	start := time.Now()
	_, ok := m.GetResultByRequestID("never-recorded", 30*time.Millisecond)
	if ok {
		t.Fatalf("expected a miss for an unrecorded request id")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected GetResultByRequestID to honor the timeout")
	}
}

func TestGlobalCountersAggregateReceivesAcrossStreams(t *testing.T) {
	connA := newFakeConn(2)
	connA.reads <- readResult{typ: socket.MessageText, data: []byte(`{"a":1}`)}
	connA.reads <- readResult{typ: socket.MessageText, data: []byte(`{"a":2}`)}
	connB := newFakeConn(1)
	connB.reads <- readResult{typ: socket.MessageText, data: []byte(`{"b":1}`)}
	dialer := &fakeDialer{conns: []*fakeConn{connA, connB}}
	m := newTestManager(t, dialer)

	idA, err := m.CreateStream(context.Background(), "public/spot", []string{"trade"}, []string{"btcusdt"}, StreamOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idB, err := m.CreateStream(context.Background(), "public/spot", []string{"trade"}, []string{"ethusdt"}, StreamOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = idA, idB

	deadline := time.Now().Add(time.Second)
	for {
		if m.GetTotalReceives() >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected global receive count to reach 3, got %d", m.GetTotalReceives())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := m.GetTotalReceivedBytes(); got <= 0 {
		t.Fatalf("expected a positive global received-byte total, got %d", got)
	}
}

func TestGetReconnectsReflectsManagerWideTotal(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})
	m.globals.TotalReconnects.Add(2)
	if got := m.GetReconnects(); got != 2 {
		t.Fatalf("expected global reconnect total 2, got %d", got)
	}
}

func TestPopStreamDataFromStreamBufferDefaultsToGlobalBuffer(t *testing.T) {
	conn := newFakeConn(1)
	conn.reads <- readResult{typ: socket.MessageText, data: []byte(`{"x":1}`)}
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	m := newTestManager(t, dialer)

	id, err := m.CreateStream(context.Background(), "public/spot", []string{"trade"}, []string{"btcusdt"}, StreamOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = id

	deadline := time.Now().Add(time.Second)
	for {
		if m.dispatcher.GlobalBuffer().Len() > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected a frame to land in the global buffer")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, ok := m.PopStreamDataFromStreamBuffer("", buffer.PopFIFO)
	if !ok {
		t.Fatalf("expected to pop a frame from the global buffer")
	}
}
