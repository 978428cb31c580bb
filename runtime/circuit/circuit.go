// Package circuit implements the in-place owned-buffer stream lane.
//
// Some kernels (FFT, tensor math, accelerator hand-off) cannot operate on an
// unbounded ring: they want to own a whole fixed-size slab, process it, and
// return it, without allocating on the hot path. The circuit lane hands whole
// buffers through the same reader/writer abstraction as the CPU ring, so
// heterogeneous flowgraphs compose.
//
// Ownership of each buffer is exclusive to whichever side currently holds
// it. The empties-return path is modeled as an opposing edge closed with
// CloseCircuit, which binds the terminal reader's returns to the origin
// writer's empties inbox.
package circuit

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gsdr-platform/gsdr/runtime"
)

// Buffer is an owned fixed-size slab travelling a circuit lane.
type Buffer[T any] struct {
	// Data is the full slab; its length is the buffer capacity.
	Data []T
	// Valid is the number of leading items that carry data.
	Valid int
	// Tags annotate items within the valid prefix.
	Tags []runtime.ItemTag
}

// Slice returns the valid prefix.
func (b *Buffer[T]) Slice() []T {
	return b.Data[:b.Valid]
}

// reset prepares a returned buffer for reuse as an empty.
func (b *Buffer[T]) reset() {
	b.Valid = 0
	b.Tags = nil
}

// queue is a small locked FIFO of buffers. Buffer hand-off is rare compared
// to item processing, so a mutex is fine here.
type queue[T any] struct {
	mu   sync.Mutex
	bufs []*Buffer[T]
}

func (q *queue[T]) push(b *Buffer[T]) {
	q.mu.Lock()
	q.bufs = append(q.bufs, b)
	q.mu.Unlock()
}

func (q *queue[T]) pop() *Buffer[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bufs) == 0 {
		return nil
	}
	b := q.bufs[0]
	q.bufs = q.bufs[1:]
	return b
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bufs)
}

// origin is the empties bookkeeping shared between the origin writer and,
// once the circuit is closed, the terminal reader.
type origin[T any] struct {
	empties  *queue[T]
	mu       sync.Mutex
	items    int
	injected bool
	inbox    *runtime.Mailbox
}

func (o *origin[T]) itemsPerBuffer() (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.items, o.injected
}

// Writer is the writer half of a circuit lane.
//
// Not safe for concurrent use; it is owned by its block's task.
type Writer[T any] struct {
	block runtime.BlockId
	port  runtime.PortId
	inbox *runtime.Mailbox

	readerInbox *runtime.Mailbox
	readerPort  runtime.PortId

	fulls    *queue[T]
	origin   *origin[T]
	finished bool
}

// NewWriter creates a detached circuit writer.
func NewWriter[T any]() *Writer[T] {
	return &Writer[T]{
		fulls:  &queue[T]{},
		origin: &origin[T]{empties: &queue[T]{}},
	}
}

// Init implements runtime.BufferWriter.
func (w *Writer[T]) Init(block runtime.BlockId, port runtime.PortId, inbox *runtime.Mailbox) {
	w.block = block
	w.port = port
	w.inbox = inbox
	w.origin.mu.Lock()
	w.origin.inbox = inbox
	w.origin.mu.Unlock()
}

// Validate implements runtime.BufferWriter.
func (w *Writer[T]) Validate() error {
	if w.readerInbox == nil {
		return &runtime.ValidationError{Detail: w.block.String() + ":" + w.port.String() + " not connected"}
	}
	return nil
}

// Connect implements runtime.BufferWriter. The peer must be a circuit
// reader of the same item type.
func (w *Writer[T]) Connect(peer runtime.BufferReader) error {
	r, ok := peer.(*Reader[T])
	if !ok {
		var zero T
		return &runtime.ValidationError{Detail: fmt.Sprintf(
			"%s:%s: circuit writer of %T items cannot pair with %T",
			w.block, w.port, zero, peer)}
	}
	r.fulls = w.fulls
	w.readerInbox = r.inbox
	w.readerPort = r.port
	r.writerInbox = w.inbox
	r.writerPort = w.port
	return nil
}

// InjectBuffersWithItems pre-allocates nBuffers empties of nItems each into
// the writer's empties queue.
func (w *Writer[T]) InjectBuffersWithItems(nBuffers, nItems int) {
	for range nBuffers {
		w.origin.empties.push(&Buffer[T]{Data: make([]T, nItems)})
	}
	w.origin.mu.Lock()
	w.origin.items = nItems
	w.origin.injected = true
	w.origin.mu.Unlock()
}

// GetEmptyBuffer returns an empty buffer, or nil when none is available.
// A writer that was never injected cannot synthesize buffers; the scheduler
// treats nil as "no work" and awaits notification.
func (w *Writer[T]) GetEmptyBuffer() *Buffer[T] {
	b := w.origin.empties.pop()
	if b == nil {
		if _, injected := w.origin.itemsPerBuffer(); !injected {
			zap.S().Warnw("cannot synthesize circuit buffer, none were injected",
				"block", w.block.String(), "port", w.port.String())
		}
	}
	return b
}

// PutFullBuffer hands a filled buffer to the downstream reader.
func (w *Writer[T]) PutFullBuffer(b *Buffer[T]) {
	w.fulls.push(b)
	w.readerInbox.Notify()
}

// HasMoreBuffers reports whether an empty buffer is available.
func (w *Writer[T]) HasMoreBuffers() bool {
	return w.origin.empties.len() > 0
}

// EmptyBuffers returns the number of buffers waiting in the empties queue.
func (w *Writer[T]) EmptyBuffers() int {
	return w.origin.empties.len()
}

// CloseCircuit binds the terminal reader's empties-return to this writer's
// empties inbox, closing the lane into a circuit.
func (w *Writer[T]) CloseCircuit(end *Reader[T]) {
	end.ret = w.origin
}

// NotifyFinished implements runtime.BufferWriter.
func (w *Writer[T]) NotifyFinished(ctx context.Context) {
	if w.readerInbox == nil {
		return
	}
	_ = w.readerInbox.Send(ctx, runtime.StreamInputDone{Port: w.readerPort})
}

// Finish implements runtime.BufferWriter.
func (w *Writer[T]) Finish() {
	w.finished = true
}

// Finished implements runtime.BufferWriter.
func (w *Writer[T]) Finished() bool {
	return w.finished
}

// BlockId implements runtime.BufferWriter.
func (w *Writer[T]) BlockId() runtime.BlockId {
	return w.block
}

// PortId implements runtime.BufferWriter.
func (w *Writer[T]) PortId() runtime.PortId {
	return w.port
}

// Reader is the reader half of a circuit lane.
//
// Not safe for concurrent use; it is owned by its block's task.
type Reader[T any] struct {
	block runtime.BlockId
	port  runtime.PortId
	inbox *runtime.Mailbox

	writerInbox *runtime.Mailbox
	writerPort  runtime.PortId

	fulls    *queue[T]
	ret      *origin[T]
	finished bool
}

// NewReader creates a detached circuit reader.
func NewReader[T any]() *Reader[T] {
	return &Reader[T]{}
}

// Init implements runtime.BufferReader.
func (r *Reader[T]) Init(block runtime.BlockId, port runtime.PortId, inbox *runtime.Mailbox) {
	r.block = block
	r.port = port
	r.inbox = inbox
}

// Validate implements runtime.BufferReader.
func (r *Reader[T]) Validate() error {
	if r.fulls == nil || r.writerInbox == nil {
		return &runtime.ValidationError{Detail: r.block.String() + ":" + r.port.String() + " not connected"}
	}
	return nil
}

// GetFullBuffer takes the next filled buffer, or nil when none is pending.
func (r *Reader[T]) GetFullBuffer() *Buffer[T] {
	if r.fulls == nil {
		return nil
	}
	return r.fulls.pop()
}

// HasMoreBuffers reports whether a filled buffer is pending.
func (r *Reader[T]) HasMoreBuffers() bool {
	return r.fulls != nil && r.fulls.len() > 0
}

// PutEmptyBuffer returns a consumed buffer. On a closed circuit it re-enters
// the origin writer's empties queue and wakes the origin block; otherwise
// the buffer is released.
func (r *Reader[T]) PutEmptyBuffer(b *Buffer[T]) {
	if r.ret == nil {
		return
	}
	b.reset()
	r.ret.empties.push(b)
	r.ret.mu.Lock()
	inbox := r.ret.inbox
	r.ret.mu.Unlock()
	if inbox != nil {
		inbox.Notify()
	}
}

// NotifyConsumedBuffer reports that a buffer was consumed without being
// returned; on a closed circuit a fresh empty is produced at the origin.
func (r *Reader[T]) NotifyConsumedBuffer() {
	if r.ret == nil {
		return
	}
	items, injected := r.ret.itemsPerBuffer()
	if !injected {
		return
	}
	r.ret.empties.push(&Buffer[T]{Data: make([]T, items)})
	r.ret.mu.Lock()
	inbox := r.ret.inbox
	r.ret.mu.Unlock()
	if inbox != nil {
		inbox.Notify()
	}
}

// NotifyFinished implements runtime.BufferReader.
func (r *Reader[T]) NotifyFinished(ctx context.Context) {
	if r.writerInbox == nil {
		return
	}
	_ = r.writerInbox.Send(ctx, runtime.StreamOutputDone{Port: r.writerPort})
}

// Finish implements runtime.BufferReader.
func (r *Reader[T]) Finish() {
	r.finished = true
}

// Finished reports that the producer closed the lane and no filled buffers
// remain.
func (r *Reader[T]) Finished() bool {
	return r.finished && (r.fulls == nil || r.fulls.len() == 0)
}

// BlockId implements runtime.BufferReader.
func (r *Reader[T]) BlockId() runtime.BlockId {
	return r.block
}

// PortId implements runtime.BufferReader.
func (r *Reader[T]) PortId() runtime.PortId {
	return r.port
}
