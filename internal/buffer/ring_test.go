package buffer

import "testing"

func TestRingDiscardsOldestWhenFull(t *testing.T) {
	r := NewRing(3)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Push(4) // evicts 1

	if got := r.Len(); got != 3 {
		t.Fatalf("expected len 3, got %d", got)
	}
	item, ok := r.Pop(PopFIFO)
	if !ok || item != 2 {
		t.Fatalf("expected oldest survivor 2, got %v (%v)", item, ok)
	}
}

func TestRingUnboundedWhenMaxLenZero(t *testing.T) {
	r := NewRing(0)
	for i := 0; i < 1000; i++ {
		r.Push(i)
	}
	if got := r.Len(); got != 1000 {
		t.Fatalf("expected unbounded ring to retain all 1000 items, got %d", got)
	}
}

func TestRingPopLIFOOrdering(t *testing.T) {
	r := NewRing(0)
	r.Push("a")
	r.Push("b")
	r.Push("c")

	first, ok := r.Pop(PopLIFO)
	if !ok || first != "c" {
		t.Fatalf("expected LIFO pop to return \"c\" first, got %v", first)
	}
	second, ok := r.Pop(PopLIFO)
	if !ok || second != "b" {
		t.Fatalf("expected LIFO pop to return \"b\" second, got %v", second)
	}
}

func TestRingPopEmptyReturnsFalse(t *testing.T) {
	r := NewRing(5)
	if _, ok := r.Pop(PopFIFO); ok {
		t.Fatalf("expected Pop on empty ring to report false")
	}
}

func TestRegistryGetOrCreateIsStable(t *testing.T) {
	reg := NewRegistry(10)
	a := reg.GetOrCreate("orders")
	a.Push(1)
	b := reg.GetOrCreate("orders")
	if b.Len() != 1 {
		t.Fatalf("expected GetOrCreate to return the same buffer instance")
	}

	reg.Remove("orders")
	c := reg.GetOrCreate("orders")
	if c.Len() != 0 {
		t.Fatalf("expected a fresh buffer after Remove, got len %d", c.Len())
	}
}

func TestResultIndexLookupByRequestID(t *testing.T) {
	ri := NewResultIndex(2)
	ri.Record(ResultEntry{RequestID: "r1", Payload: "ok"})
	ri.Record(ResultEntry{RequestID: "r2", Payload: "ok"})
	ri.Record(ResultEntry{RequestID: "r3", Payload: "ok"}) // evicts r1

	if _, ok := ri.Lookup("r1"); ok {
		t.Fatalf("expected r1 to be evicted once capacity exceeded")
	}
	entry, ok := ri.Lookup("r3")
	if !ok || entry.Payload != "ok" {
		t.Fatalf("expected r3 to be indexed, got %v (%v)", entry, ok)
	}
	if ri.Len() != 2 {
		t.Fatalf("expected ring len 2, got %d", ri.Len())
	}
}
