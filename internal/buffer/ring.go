// Package buffer implements the bounded double-ended queues described in
// spec.md §3/§9: a global stream buffer, per-name shared buffers,
// per-stream buffers, a signal buffer, and result/error rings with
// request-id indexing. No third-party ring-buffer library is used by
// any repo in the pack (the teacher hand-rolls its own event bus ring),
// so these are implemented on the standard library — see DESIGN.md.
package buffer

import "sync"

// PopMode selects which end of the ring Pop removes from.
type PopMode int

const (
	// PopFIFO removes the oldest item (default caller discipline).
	PopFIFO PopMode = iota
	// PopLIFO removes the most recently appended item.
	PopLIFO
)

// Ring is a bounded, thread-safe double-ended queue of arbitrary values.
// When MaxLen is exceeded, the oldest item is discarded (spec.md §8,
// invariant 3). MaxLen <= 0 means unbounded.
type Ring struct {
	mu     sync.Mutex
	items  []any
	maxLen int
}

// NewRing constructs a Ring bounded to maxLen items (<=0 for unbounded).
func NewRing(maxLen int) *Ring {
	return &Ring{maxLen: maxLen}
}

// Push appends an item, evicting the oldest item if the ring is full.
func (r *Ring) Push(item any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	if r.maxLen > 0 && len(r.items) > r.maxLen {
		overflow := len(r.items) - r.maxLen
		r.items = append(r.items[:0], r.items[overflow:]...)
	}
}

// Pop removes and returns one item per mode, or (nil, false) if empty.
func (r *Ring) Pop(mode PopMode) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return nil, false
	}
	switch mode {
	case PopLIFO:
		idx := len(r.items) - 1
		item := r.items[idx]
		r.items = r.items[:idx]
		return item, true
	default: // PopFIFO
		item := r.items[0]
		r.items = r.items[1:]
		return item, true
	}
}

// Len returns the current number of buffered items.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Registry keys Rings by a caller-supplied name, implementing the named
// shared buffers that "survive stream restarts" (spec.md §3).
type Registry struct {
	mu      sync.Mutex
	maxLen  int
	buffers map[string]*Ring
}

// NewRegistry builds an empty named-buffer registry. Every buffer
// created on demand is bounded to defaultMaxLen; there is no per-name
// override.
func NewRegistry(defaultMaxLen int) *Registry {
	return &Registry{maxLen: defaultMaxLen, buffers: make(map[string]*Ring)}
}

// GetOrCreate returns the named buffer, creating it on first use.
func (reg *Registry) GetOrCreate(name string) *Ring {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.buffers[name]; ok {
		return r
	}
	r := NewRing(reg.maxLen)
	reg.buffers[name] = r
	return r
}

// Remove deletes the named buffer if present.
func (reg *Registry) Remove(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.buffers, name)
}
