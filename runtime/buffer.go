package runtime

import "context"

// BufferWriter is the type-erased writer half of a stream edge. Both buffer
// families (the CPU circular buffer and the in-place circuit lane) implement
// it, so heterogeneous flowgraphs compose behind one connection surface.
//
// Lifecycle: the runtime calls Init when the owning block is spawned,
// Connect once per recorded stream edge, and Validate before the first work
// invocation. Finish and NotifyFinished are driven by the block executor
// during termination.
type BufferWriter interface {
	// Init binds the half to its owning block and port and to the block's
	// inbox, used by the peer for wake-ups.
	Init(block BlockId, port PortId, inbox *Mailbox)
	// Validate reports whether the half is connected and well-formed.
	Validate() error
	// Connect pairs the writer with its companion reader. It fails when the
	// peer is of a different buffer family or item type.
	Connect(peer BufferReader) error
	// NotifyFinished tells the downstream reader that no more data will be
	// produced on this edge.
	NotifyFinished(ctx context.Context)
	// Finish marks the half as finished.
	Finish()
	// Finished reports whether the half has been marked finished.
	Finished() bool
	// BlockId returns the owning block.
	BlockId() BlockId
	// PortId returns the owning port.
	PortId() PortId
}

// BufferReader is the type-erased reader half of a stream edge.
type BufferReader interface {
	Init(block BlockId, port PortId, inbox *Mailbox)
	Validate() error
	// NotifyFinished tells the upstream writer that this reader has
	// finalized and no further consumption will happen.
	NotifyFinished(ctx context.Context)
	// Finish marks the half as finished. The half still drains data already
	// buffered; Finished turns true only once the buffer is empty.
	Finish()
	Finished() bool
	BlockId() BlockId
	PortId() PortId
}
