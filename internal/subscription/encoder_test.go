package subscription

import (
	"strconv"
	"testing"
)

func set(items ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, i := range items {
		out[i] = struct{}{}
	}
	return out
}

func TestEncodeSingleChunk(t *testing.T) {
	enc := NewEncoder(DefaultMaxItemsPerRequest)
	payloads := enc.Encode(MethodSubscribe, set("kline.1"), set("btcusdt", "ethusdt"))
	if len(payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(payloads))
	}
	got := payloads[0]
	if got.Op != "subscribe" {
		t.Fatalf("expected op=subscribe, got %q", got.Op)
	}
	want := map[string]struct{}{"kline.1.BTCUSDT": {}, "kline.1.ETHUSDT": {}}
	if len(got.Args) != len(want) {
		t.Fatalf("expected %d args, got %d (%v)", len(want), len(got.Args), got.Args)
	}
	for _, a := range got.Args {
		if _, ok := want[a]; !ok {
			t.Fatalf("unexpected arg %q", a)
		}
	}
}

func TestEncodeChunksLargeCrossProduct(t *testing.T) {
	markets := make(map[string]struct{}, 800)
	for i := 0; i < 800; i++ {
		markets[marketName(i)] = struct{}{}
	}
	enc := NewEncoder(DefaultMaxItemsPerRequest)
	payloads := enc.Encode(MethodSubscribe, set("trade"), markets)

	wantChunks := 3 // ceil(800/350)
	if len(payloads) != wantChunks {
		t.Fatalf("expected %d chunks, got %d", wantChunks, len(payloads))
	}

	total := 0
	union := make(map[string]struct{})
	for _, p := range payloads {
		if len(p.Args) > DefaultMaxItemsPerRequest {
			t.Fatalf("chunk exceeds max items: %d", len(p.Args))
		}
		total += len(p.Args)
		for _, a := range p.Args {
			union[a] = struct{}{}
		}
	}
	if total != 800 {
		t.Fatalf("expected 800 total args across chunks, got %d", total)
	}
	if len(union) != 800 {
		t.Fatalf("expected 800 unique args, got %d", len(union))
	}
}

func TestEncodeEmptySetsYieldNoPayloads(t *testing.T) {
	enc := NewEncoder(0)
	if got := enc.Encode(MethodSubscribe, nil, set("btcusdt")); got != nil {
		t.Fatalf("expected nil payloads for empty channel set, got %v", got)
	}
	if got := enc.Encode(MethodSubscribe, set("trade"), nil); got != nil {
		t.Fatalf("expected nil payloads for empty market set, got %v", got)
	}
}

func marketName(i int) string {
	return "market" + strconv.Itoa(i)
}
