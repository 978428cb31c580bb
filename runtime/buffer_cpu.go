package runtime

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/c2h5oh/datasize"

	"github.com/gsdr-platform/gsdr/pmt"
)

// cpuTag is a tag pinned to an absolute stream position. Reader-relative
// offsets are derived on observation, so re-basing on consume is implicit.
type cpuTag struct {
	pos   uint64
	value pmt.Pmt
}

// cpuState is the ring shared by one writer/reader pair.
//
// The cursors are monotonically increasing 64-bit counters; physical indices
// are derived with a power-of-two mask. The writer is the sole mutator of
// wpos, the reader of rpos; cross-publication is atomic, which is the only
// synchronization on the hot path. The tag list is off the hot path and is
// guarded by a mutex.
type cpuState[T any] struct {
	data []T
	mask uint64

	wpos atomic.Uint64
	rpos atomic.Uint64

	readerMinItems atomic.Int64
	writerMinItems atomic.Int64

	mu   sync.Mutex
	tags []cpuTag
}

func (s *cpuState[T]) capacity() uint64 {
	return uint64(len(s.data))
}

// CircularWriter is the writer half of the default CPU stream buffer.
//
// Not safe for concurrent use; it is owned by its block's task.
type CircularWriter[T any] struct {
	state *cpuState[T]

	block BlockId
	port  PortId
	inbox *Mailbox

	readerInbox *Mailbox
	readerPort  PortId

	bufferSize  datasize.ByteSize
	minBufItems int
	minItems    int
	finished    bool
}

// NewCircularWriter creates a detached writer half. The ring is allocated
// when the half is connected.
func NewCircularWriter[T any]() *CircularWriter[T] {
	return &CircularWriter[T]{}
}

// Init implements BufferWriter.
func (w *CircularWriter[T]) Init(block BlockId, port PortId, inbox *Mailbox) {
	w.block = block
	w.port = port
	w.inbox = inbox
}

// Validate implements BufferWriter.
func (w *CircularWriter[T]) Validate() error {
	if w.state == nil || w.readerInbox == nil {
		return validationErrorf("%s:%s not connected", w.block, w.port)
	}
	return nil
}

// Connect implements BufferWriter. The peer must be a *CircularReader with
// the same item type.
func (w *CircularWriter[T]) Connect(peer BufferReader) error {
	r, ok := peer.(*CircularReader[T])
	if !ok {
		var zero T
		return validationErrorf("%s:%s expects a circular reader of %T items, got %T",
			w.block, w.port, zero, peer)
	}

	itemSize := int(unsafe.Sizeof(*new(T)))
	size := w.bufferSize
	if size == 0 {
		size = CurrentConfig().BufferSize
	}
	items := int(size) / itemSize
	items = max(items, w.minBufItems, r.minBufItems, 1)
	capacity := nextPowerOfTwo(uint64(items))

	state := &cpuState[T]{
		data: make([]T, capacity),
		mask: capacity - 1,
	}
	state.readerMinItems.Store(int64(max(r.minItems, 1)))
	state.writerMinItems.Store(int64(max(w.minItems, 1)))

	w.state = state
	w.readerInbox = r.inbox
	w.readerPort = r.port

	r.state = state
	r.writerInbox = w.inbox
	r.writerPort = w.port
	return nil
}

// Slice returns the largest contiguous writable prefix. A zero-length result
// means the ring is full; the writer simply does not produce and is woken on
// the reader's next consume.
func (w *CircularWriter[T]) Slice() []T {
	s := w.state
	wp := s.wpos.Load()
	rp := s.rpos.Load()
	free := s.capacity() - (wp - rp)
	pos := wp & s.mask
	n := min(free, s.capacity()-pos)
	return s.data[pos : pos+n]
}

// AddTag attaches a tag to the item at the given offset within the current
// writable slice. Tags attached to one offset are preserved in insertion
// order.
func (w *CircularWriter[T]) AddTag(offset int, value pmt.Pmt) {
	s := w.state
	pos := s.wpos.Load() + uint64(offset)
	s.mu.Lock()
	s.tags = append(s.tags, cpuTag{pos: pos, value: value})
	s.mu.Unlock()
}

// Produce commits n items written to the head of the slice returned by
// Slice. It panics when n exceeds the writable length. Items produced after
// the reader has finalized are dropped.
func (w *CircularWriter[T]) Produce(n int) {
	if n == 0 {
		return
	}
	s := w.state
	wp := s.wpos.Load()
	rp := s.rpos.Load()
	if free := s.capacity() - (wp - rp); uint64(n) > free {
		panic(fmt.Sprintf("%s:%s: produce(%d) exceeds writable length %d", w.block, w.port, n, free))
	}
	if w.finished {
		// The peer reader is gone; the data has nowhere to go.
		return
	}
	s.wpos.Store(wp + uint64(n))
	if wp+uint64(n)-rp >= uint64(s.readerMinItems.Load()) {
		w.readerInbox.Notify()
	}
}

// MaxItems returns the ring capacity in items.
func (w *CircularWriter[T]) MaxItems() int {
	if w.state == nil {
		return 0
	}
	return int(w.state.capacity())
}

// SetMinItems installs the minimum-items hint used to coalesce writer
// wake-ups: the reader notifies the writer only once at least n slots are
// free.
func (w *CircularWriter[T]) SetMinItems(n int) {
	w.minItems = n
	if w.state != nil {
		w.state.writerMinItems.Store(int64(max(n, 1)))
	}
}

// SetMinBufferSizeInItems raises the minimum ring capacity. Effective only
// before the half is connected.
func (w *CircularWriter[T]) SetMinBufferSizeInItems(n int) {
	w.minBufItems = n
}

// SetBufferSize overrides the default ring size in bytes. Effective only
// before the half is connected.
func (w *CircularWriter[T]) SetBufferSize(size datasize.ByteSize) {
	w.bufferSize = size
}

// NotifyFinished implements BufferWriter.
func (w *CircularWriter[T]) NotifyFinished(ctx context.Context) {
	if w.readerInbox == nil {
		return
	}
	// A closed peer inbox already implies the edge is down.
	_ = w.readerInbox.Send(ctx, StreamInputDone{Port: w.readerPort})
}

// Finish implements BufferWriter.
func (w *CircularWriter[T]) Finish() {
	w.finished = true
}

// Finished implements BufferWriter.
func (w *CircularWriter[T]) Finished() bool {
	return w.finished
}

// BlockId implements BufferWriter.
func (w *CircularWriter[T]) BlockId() BlockId {
	return w.block
}

// PortId implements BufferWriter.
func (w *CircularWriter[T]) PortId() PortId {
	return w.port
}

// CircularReader is the reader half of the default CPU stream buffer.
//
// Not safe for concurrent use; it is owned by its block's task.
type CircularReader[T any] struct {
	state *cpuState[T]

	block BlockId
	port  PortId
	inbox *Mailbox

	writerInbox *Mailbox
	writerPort  PortId

	minBufItems int
	minItems    int
	finished    bool
}

// NewCircularReader creates a detached reader half.
func NewCircularReader[T any]() *CircularReader[T] {
	return &CircularReader[T]{}
}

// Init implements BufferReader.
func (r *CircularReader[T]) Init(block BlockId, port PortId, inbox *Mailbox) {
	r.block = block
	r.port = port
	r.inbox = inbox
}

// Validate implements BufferReader.
func (r *CircularReader[T]) Validate() error {
	if r.state == nil || r.writerInbox == nil {
		return validationErrorf("%s:%s not connected", r.block, r.port)
	}
	return nil
}

// SliceWithTags returns the largest contiguous readable prefix together with
// the tags attached to items within it. Tag offsets are relative to the
// start of the returned slice.
func (r *CircularReader[T]) SliceWithTags() ([]T, []ItemTag) {
	s := r.state
	wp := s.wpos.Load()
	rp := s.rpos.Load()
	avail := wp - rp
	pos := rp & s.mask
	n := min(avail, s.capacity()-pos)
	items := s.data[pos : pos+n]

	var tags []ItemTag
	s.mu.Lock()
	for _, t := range s.tags {
		if t.pos >= rp && t.pos < rp+n {
			tags = append(tags, ItemTag{Offset: int(t.pos - rp), Value: t.value})
		}
	}
	s.mu.Unlock()
	return items, tags
}

// Slice returns the largest contiguous readable prefix.
func (r *CircularReader[T]) Slice() []T {
	items, _ := r.SliceWithTags()
	return items
}

// Consume releases n items. Tags on released items are dropped; remaining
// tags are re-based. It panics when n exceeds the readable length.
func (r *CircularReader[T]) Consume(n int) {
	if n == 0 {
		return
	}
	s := r.state
	wp := s.wpos.Load()
	rp := s.rpos.Load()
	if avail := wp - rp; uint64(n) > avail {
		panic(fmt.Sprintf("%s:%s: consume(%d) exceeds readable length %d", r.block, r.port, n, avail))
	}

	s.mu.Lock()
	if len(s.tags) > 0 {
		kept := s.tags[:0]
		for _, t := range s.tags {
			if t.pos >= rp+uint64(n) {
				kept = append(kept, t)
			}
		}
		s.tags = kept
	}
	s.mu.Unlock()

	s.rpos.Store(rp + uint64(n))
	if s.capacity()-(wp-rp-uint64(n)) >= uint64(s.writerMinItems.Load()) {
		r.writerInbox.Notify()
	}
}

// MaxItems returns the ring capacity in items.
func (r *CircularReader[T]) MaxItems() int {
	if r.state == nil {
		return 0
	}
	return int(r.state.capacity())
}

// SetMinItems installs the minimum-items hint used to coalesce reader
// wake-ups: the writer notifies the reader only once at least n items are
// readable.
func (r *CircularReader[T]) SetMinItems(n int) {
	r.minItems = n
	if r.state != nil {
		r.state.readerMinItems.Store(int64(max(n, 1)))
	}
}

// SetMinBufferSizeInItems raises the minimum ring capacity. Effective only
// before the half is connected.
func (r *CircularReader[T]) SetMinBufferSizeInItems(n int) {
	r.minBufItems = n
}

// NotifyFinished implements BufferReader.
func (r *CircularReader[T]) NotifyFinished(ctx context.Context) {
	if r.writerInbox == nil {
		return
	}
	_ = r.writerInbox.Send(ctx, StreamOutputDone{Port: r.writerPort})
}

// Finish implements BufferReader.
func (r *CircularReader[T]) Finish() {
	r.finished = true
}

// Finished reports that the producer closed the edge and the ring is
// drained.
func (r *CircularReader[T]) Finished() bool {
	if !r.finished {
		return false
	}
	s := r.state
	return s == nil || s.wpos.Load() == s.rpos.Load()
}

// BlockId implements BufferReader.
func (r *CircularReader[T]) BlockId() BlockId {
	return r.block
}

// PortId implements BufferReader.
func (r *CircularReader[T]) PortId() PortId {
	return r.port
}

func nextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len64(v-1)
}
