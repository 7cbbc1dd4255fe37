package streamrec

import (
	"testing"
	"time"
)

func TestStatusNeverLeavesTerminalState(t *testing.T) {
	r := New("s1", Config{})
	r.SetStatus(StatusRunning, "")
	r.SetStatus(StatusStopped, "")
	r.SetStatus(StatusRunning, "") // must be ignored

	if got := r.StatusString(); got != "stopped" {
		t.Fatalf("expected status to stay stopped, got %q", got)
	}
	if !r.IsTerminal() {
		t.Fatalf("expected terminal stream to report IsTerminal")
	}
}

func TestCrashedStatusStringIncludesReason(t *testing.T) {
	r := New("s1", Config{})
	r.SetStatus(StatusCrashed, "429 upgrade rejected")
	if got := r.StatusString(); got != "crashed:429 upgrade rejected" {
		t.Fatalf("unexpected status string: %q", got)
	}
}

func TestMarkFirstDataIfNeededFiresOncePerEpoch(t *testing.T) {
	r := New("s1", Config{})
	r.BeginEpoch("wss://example/v5/public/spot")

	if !r.MarkFirstDataIfNeeded() {
		t.Fatalf("expected first call to report true")
	}
	if r.MarkFirstDataIfNeeded() {
		t.Fatalf("expected second call in same epoch to report false")
	}

	r.BeginEpoch("wss://example/v5/public/spot")
	if !r.MarkFirstDataIfNeeded() {
		t.Fatalf("expected a fresh epoch to allow FIRST_RECEIVED_DATA again")
	}
}

func TestRecordReceiveUpdatesCountersAndHistograms(t *testing.T) {
	r := New("s1", Config{})
	now := time.Unix(1_700_000_000, 0)
	r.RecordReceive(now, 128, "frame-1")
	r.RecordReceive(now, 64, "frame-2")

	snap := r.Snapshot()
	if snap.ReceiveCounter != 2 {
		t.Fatalf("expected receive counter 2, got %d", snap.ReceiveCounter)
	}
	if snap.LastReceivedRecord != "frame-2" {
		t.Fatalf("expected last received record to be frame-2, got %v", snap.LastReceivedRecord)
	}
	if got := r.ReceivesInSecond(now.Unix()); got != 2 {
		t.Fatalf("expected histogram bucket count 2, got %d", got)
	}
}

func TestTrimHistogramsBeforeDropsOldBuckets(t *testing.T) {
	r := New("s1", Config{})
	old := time.Unix(1_000, 0)
	recent := time.Unix(2_000, 0)
	r.RecordReceive(old, 1, nil)
	r.RecordReceive(recent, 1, nil)

	r.TrimHistogramsBefore(1_500)

	if got := r.ReceivesInSecond(old.Unix()); got != 0 {
		t.Fatalf("expected old bucket trimmed, got %d", got)
	}
	if got := r.ReceivesInSecond(recent.Unix()); got != 1 {
		t.Fatalf("expected recent bucket retained, got %d", got)
	}
}

func TestPendingPayloadsDrainOnce(t *testing.T) {
	r := New("s1", Config{})
	r.EnqueuePending([]byte(`{"op":"subscribe"}`))
	r.EnqueuePending([]byte(`{"op":"subscribe"}`))

	drained := r.DrainPending()
	if len(drained) != 2 {
		t.Fatalf("expected 2 pending payloads, got %d", len(drained))
	}
	if again := r.DrainPending(); again != nil {
		t.Fatalf("expected second drain to be empty, got %v", again)
	}
}

func TestGlobalCountersAggregateAcrossMultipleRecordsWithoutDecay(t *testing.T) {
	globals := &GlobalCounters{}
	a := New("s1", Config{})
	a.Global = globals
	b := New("s2", Config{})
	b.Global = globals

	a.RecordReceive(time.Unix(1_700_000_000, 0), 100, "x")
	b.RecordReceive(time.Unix(1_700_000_000, 0), 50, "y")
	a.RecordReconnect(time.Unix(1, 0))
	b.RecordReconnect(time.Unix(2, 0))
	b.RecordReconnect(time.Unix(3, 0))

	if got := globals.TotalReceives.Load(); got != 2 {
		t.Fatalf("expected 2 total receives across both streams, got %d", got)
	}
	if got := globals.TotalReceivedBytes.Load(); got != 150 {
		t.Fatalf("expected 150 total received bytes across both streams, got %d", got)
	}
	if got := globals.TotalReconnects.Load(); got != 3 {
		t.Fatalf("expected 3 total reconnects across both streams, got %d", got)
	}

	// Trimming a, b's own per-second histograms must not affect the
	// shared lifetime totals.
	a.TrimHistogramsBefore(time.Now().Unix() + 1)
	if got := globals.TotalReceives.Load(); got != 2 {
		t.Fatalf("expected global totals to survive per-stream histogram trimming, got %d", got)
	}
}

func TestRecordWithoutGlobalSkipsAggregationSafely(t *testing.T) {
	r := New("s1", Config{})
	r.RecordReceive(time.Unix(1, 0), 10, "x")
	r.RecordReconnect(time.Unix(1, 0))
	// No panic with Global left nil is the assertion here.
}

func TestReconnectCountMatchesLoggedTimestamps(t *testing.T) {
	r := New("s1", Config{})
	r.RecordReconnect(time.Unix(1, 0))
	r.RecordReconnect(time.Unix(2, 0))

	snap := r.Snapshot()
	if snap.ReconnectCount != 2 {
		t.Fatalf("expected reconnect count 2, got %d", snap.ReconnectCount)
	}
	if len(snap.LoggedReconnects) != 2 {
		t.Fatalf("expected 2 logged reconnect timestamps, got %d", len(snap.LoggedReconnects))
	}
}
