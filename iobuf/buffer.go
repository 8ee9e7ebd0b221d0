// File: iobuf/buffer.go
//
// Grounded on api.Buffer/api.BufferPool (resliceable, reference-counted,
// pool-returnable byte region) generalized by dropping the NUMA
// dimension: allocator/placement plumbing is an explicit external
// collaborator concern (spec §1), so Buffer keeps the zero-copy
// slice/release/copy contract without a NUMANode() method or
// NUMA-keyed pool.
package iobuf

// Buffer is a resliceable view over a pooled byte region. Ownership
// transfers along a channel's slot chain per the Message data model —
// whoever holds a Buffer must either forward it (and its owning
// Message) or Release it.
type Buffer interface {
	// Bytes returns the current view's contents. The slice is only
	// valid until Release.
	Bytes() []byte
	// Slice returns a sub-view in [from, to) sharing the same backing
	// region; it does not copy.
	Slice(from, to int) Buffer
	// Release returns the buffer to its owning Pool. Using it
	// afterward is a bug the runtime does not attempt to detect.
	Release()
	// Copy returns an independent []byte snapshot of the current view.
	Copy() []byte
	// Len is the current view's length in bytes.
	Len() int
}

type sliceBuffer struct {
	region *region
	off    int
	length int
}

type region struct {
	pool *Pool
	buf  []byte
}

func (b *sliceBuffer) Bytes() []byte {
	return b.region.buf[b.off : b.off+b.length]
}

func (b *sliceBuffer) Len() int { return b.length }

func (b *sliceBuffer) Slice(from, to int) Buffer {
	if from < 0 || to > b.length || from > to {
		panic("iobuf: slice out of range")
	}
	return &sliceBuffer{region: b.region, off: b.off + from, length: to - from}
}

func (b *sliceBuffer) Copy() []byte {
	out := make([]byte, b.length)
	copy(out, b.Bytes())
	return out
}

func (b *sliceBuffer) Release() {
	if b.region != nil && b.region.pool != nil {
		b.region.pool.put(b.region)
	}
}
