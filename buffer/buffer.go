// Package buffer defines the opaque, reference-countable payload that
// flows downstream between elements, plus the small set of operations
// the core needs on batches of buffers (counting and splitting by the
// pad's negotiated demand unit).
package buffer

import "sync/atomic"

// Buffer is a timestamped chunk of payload. Payload is opaque to the
// core; user element callbacks interpret it. Metadata carries whatever
// side information the producing element attaches (PTS, flags, ...).
type Buffer struct {
	Payload  []byte
	Metadata map[string]any

	refs *atomic.Int64
}

// New wraps payload in a Buffer with a fresh reference count of 1.
func New(payload []byte) *Buffer {
	refs := &atomic.Int64{}
	refs.Store(1)
	return &Buffer{Payload: payload, refs: refs}
}

// Ref increments the reference count and returns the same Buffer, for
// callers that hand the same payload to more than one downstream pad.
func (b *Buffer) Ref() *Buffer {
	b.refs.Add(1)
	return b
}

// Unref decrements the reference count. It returns true when the count
// reaches zero, signaling the payload may be released by the owner.
func (b *Buffer) Unref() bool {
	return b.refs.Add(-1) == 0
}

// Len reports the payload size in bytes, the unit used when a pad's
// DemandUnit is Bytes.
func (b *Buffer) Len() int {
	return len(b.Payload)
}

// Batch is an ordered group of Buffers delivered together, e.g. to a
// single handle_process callback invocation or a single PullBuffer
// record.
type Batch []*Buffer

// ByteLen sums the payload length of every Buffer in the batch.
func (b Batch) ByteLen() int {
	total := 0
	for _, buf := range b {
		total += buf.Len()
	}
	return total
}
