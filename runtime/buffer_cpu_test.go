package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsdr-platform/gsdr/pmt"
)

// newTestPair connects a writer/reader pair with a ring of capacity items
// (rounded up to a power of two) and returns both halves.
func newTestPair[T any](t *testing.T, capacity int) (*CircularWriter[T], *CircularReader[T]) {
	t.Helper()

	w := NewCircularWriter[T]()
	r := NewCircularReader[T]()
	w.Init(0, PortName("out"), NewMailbox(8))
	r.Init(1, PortName("in"), NewMailbox(8))
	// A one-byte budget leaves the item minimum to decide the ring size.
	w.SetBufferSize(1)
	w.SetMinBufferSizeInItems(capacity)
	require.NoError(t, w.Connect(r))
	require.NoError(t, w.Validate())
	require.NoError(t, r.Validate())
	return w, r
}

func TestCircularProduceConsumeFIFO(t *testing.T) {
	w, r := newTestPair[byte](t, 16)

	buf := w.Slice()
	require.GreaterOrEqual(t, len(buf), 4)
	copy(buf, []byte{10, 11, 12, 13})
	w.Produce(4)

	items, _ := r.SliceWithTags()
	assert.Equal(t, []byte{10, 11, 12, 13}, items)

	r.Consume(2)
	items, _ = r.SliceWithTags()
	assert.Equal(t, []byte{12, 13}, items)
}

func TestCircularCapacityRounding(t *testing.T) {
	w, _ := newTestPair[byte](t, 100)
	assert.Equal(t, 128, w.MaxItems(), "capacity rounds up to a power of two")
}

func TestCircularCapacityFromConfig(t *testing.T) {
	w := NewCircularWriter[uint32]()
	r := NewCircularReader[uint32]()
	w.Init(0, PortName("out"), NewMailbox(8))
	r.Init(1, PortName("in"), NewMailbox(8))
	require.NoError(t, w.Connect(r))

	expect := int(CurrentConfig().BufferSize) / 4
	assert.Equal(t, int(nextPowerOfTwo(uint64(expect))), w.MaxItems())
}

func TestCircularExactFitBoundary(t *testing.T) {
	w, r := newTestPair[byte](t, 8)
	capacity := w.MaxItems()

	// Fill the ring completely before the reader runs.
	buf := w.Slice()
	require.Len(t, buf, capacity)
	for i := range buf {
		buf[i] = byte(i)
	}
	w.Produce(capacity)
	assert.Empty(t, w.Slice(), "full ring has no writable prefix")

	// Reader consumes all; writer must not stall afterwards.
	items, _ := r.SliceWithTags()
	require.Len(t, items, capacity)
	r.Consume(capacity)

	assert.Len(t, w.Slice(), capacity)
	w.Produce(1)
	items, _ = r.SliceWithTags()
	assert.Len(t, items, 1)
}

func TestCircularWrapContiguity(t *testing.T) {
	w, r := newTestPair[byte](t, 8)
	capacity := w.MaxItems()

	w.Produce(capacity - 2)
	r.Consume(capacity - 2)

	// The writable region wraps; the slice is the prefix up to the edge.
	buf := w.Slice()
	assert.Len(t, buf, 2)
	w.Produce(2)
	buf = w.Slice()
	assert.Len(t, buf, capacity-2)

	items, _ := r.SliceWithTags()
	assert.Len(t, items, 2)
	r.Consume(2)
	items, _ = r.SliceWithTags()
	assert.Empty(t, items)
}

func TestCircularTagRebaseAndDrop(t *testing.T) {
	w, r := newTestPair[byte](t, 16)

	copy(w.Slice(), []byte{10, 11, 12, 13})
	w.AddTag(2, pmt.U32(7))
	w.Produce(4)

	_, tags := r.SliceWithTags()
	require.Len(t, tags, 1)
	assert.Equal(t, 2, tags[0].Offset)
	assert.Equal(t, pmt.U32(7), tags[0].Value)

	r.Consume(1)
	_, tags = r.SliceWithTags()
	require.Len(t, tags, 1)
	assert.Equal(t, 1, tags[0].Offset, "tag re-bases after consume")

	r.Consume(2)
	_, tags = r.SliceWithTags()
	assert.Empty(t, tags, "tag on a consumed item is dropped")
}

func TestCircularMultipleTagsSameOffsetKeepOrder(t *testing.T) {
	w, r := newTestPair[byte](t, 16)

	w.Slice()[0] = 1
	w.AddTag(0, pmt.String("first"))
	w.AddTag(0, pmt.String("second"))
	w.Produce(1)

	_, tags := r.SliceWithTags()
	require.Len(t, tags, 2)
	assert.Equal(t, pmt.String("first"), tags[0].Value)
	assert.Equal(t, pmt.String("second"), tags[1].Value)
}

func TestCircularNotifyOnProduceAndConsume(t *testing.T) {
	w, r := newTestPair[byte](t, 8)

	readerInbox := NewMailbox(8)
	writerInbox := NewMailbox(8)
	// Rebind the notification targets to observable mailboxes.
	w.readerInbox = readerInbox
	r.writerInbox = writerInbox

	w.Produce(0)
	select {
	case <-readerInbox.notify:
		t.Fatal("empty produce must not notify")
	default:
	}

	w.Slice()[0] = 1
	w.Produce(1)
	select {
	case <-readerInbox.notify:
	default:
		t.Fatal("produce must post a notify")
	}

	r.Consume(1)
	select {
	case <-writerInbox.notify:
	default:
		t.Fatal("consume must post a notify")
	}
}

func TestCircularMinItemsCoalescesNotifies(t *testing.T) {
	w, r := newTestPair[byte](t, 16)
	readerInbox := NewMailbox(8)
	w.readerInbox = readerInbox
	r.SetMinItems(4)

	w.Slice()[0] = 1
	w.Produce(1)
	select {
	case <-readerInbox.notify:
		t.Fatal("below the min-items hint no notify is due")
	default:
	}

	copy(w.Slice(), []byte{2, 3, 4})
	w.Produce(3)
	select {
	case <-readerInbox.notify:
	default:
		t.Fatal("reaching the min-items hint must notify")
	}
}

func TestCircularFinishSemantics(t *testing.T) {
	w, r := newTestPair[byte](t, 8)

	w.Slice()[0] = 42
	w.Produce(1)
	r.Finish()
	assert.False(t, r.Finished(), "reader with buffered data is not finished")

	r.Consume(1)
	assert.True(t, r.Finished())

	assert.False(t, w.Finished())
	w.Finish()
	assert.True(t, w.Finished())
}

func TestCircularProduceAfterPeerFinishedDrops(t *testing.T) {
	w, r := newTestPair[byte](t, 8)

	// The reader is gone: its StreamOutputDone marked the writer finished.
	w.Finish()
	w.Slice()[0] = 1
	w.Produce(1)

	items, _ := r.SliceWithTags()
	assert.Empty(t, items, "produce after peer finish is dropped")
}

func TestCircularConservation(t *testing.T) {
	w, r := newTestPair[byte](t, 8)

	var produced, consumed int
	for round := range 100 {
		buf := w.Slice()
		n := min(len(buf), 1+round%5)
		w.Produce(n)
		produced += n

		items, _ := r.SliceWithTags()
		c := min(len(items), 1+round%3)
		r.Consume(c)
		consumed += c
	}

	readable := 0
	for {
		items, _ := r.SliceWithTags()
		if len(items) == 0 {
			break
		}
		readable += len(items)
		r.Consume(len(items))
	}
	assert.Equal(t, produced, consumed+readable)
}

func TestCircularProduceBoundsPanic(t *testing.T) {
	w, _ := newTestPair[byte](t, 8)
	assert.Panics(t, func() {
		w.Produce(w.MaxItems() + 1)
	})
}

func TestCircularConsumeBoundsPanic(t *testing.T) {
	w, r := newTestPair[byte](t, 8)
	w.Produce(1)
	assert.Panics(t, func() {
		r.Consume(2)
	})
}

func TestCircularConnectTypeMismatch(t *testing.T) {
	w := NewCircularWriter[byte]()
	r := NewCircularReader[uint32]()
	w.Init(0, PortName("out"), NewMailbox(1))
	r.Init(1, PortName("in"), NewMailbox(1))

	err := w.Connect(r)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}
