package signal

import "github.com/coachpo/streamkeeper/internal/buffer"

// BufferSink is the default sink: it appends every signal to a shared
// FIFO ring, the "signal buffer" of spec.md §3/§4.6.
type BufferSink struct {
	ring *buffer.Ring
}

// NewBufferSink wraps ring as a signal Sink.
func NewBufferSink(ring *buffer.Ring) *BufferSink {
	return &BufferSink{ring: ring}
}

// Emit appends sig to the underlying ring.
func (b *BufferSink) Emit(sig Signal) {
	b.ring.Push(sig)
}

// Pop removes and returns the oldest buffered signal, or (Signal{}, false)
// if the buffer is empty.
func (b *BufferSink) Pop() (Signal, bool) {
	v, ok := b.ring.Pop(buffer.PopFIFO)
	if !ok {
		return Signal{}, false
	}
	sig, _ := v.(Signal)
	return sig, true
}
