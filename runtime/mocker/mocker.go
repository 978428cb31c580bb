// Package mocker implements a single-block driver for unit tests and
// benchmarks: it feeds fixed inputs into one block, repeatedly invokes its
// work function until it finishes, and exposes the produced outputs as plain
// slices. Every block must be testable this way.
package mocker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gsdr-platform/gsdr/pmt"
	"github.com/gsdr-platform/gsdr/runtime"
)

// Mocker drives a single detached block.
type Mocker struct {
	block   *runtime.Block
	io      runtime.WorkIo
	feeds   *runtime.Mailbox
	outputs map[string]any
}

type options struct {
	log *zap.SugaredLogger
}

// Option configures a Mocker.
type Option func(*options)

// WithLog sets the logger handed to the block.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// New wraps a detached block. The block must not be added to a flowgraph.
func New(b *runtime.Block, opts ...Option) *Mocker {
	o := &options{log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(o)
	}
	m := &Mocker{
		block:   b,
		feeds:   runtime.NewMailbox(runtime.CurrentConfig().QueueSize),
		outputs: map[string]any{},
	}
	b.Spawn(runtime.CurrentConfig().QueueSize, o.log)
	return m
}

// Block returns the driven block.
func (m *Mocker) Block() *runtime.Block {
	return m.block
}

// Input pre-loads a stream input with items and finalizes it, so the kernel
// observes a finished input once everything is consumed.
func Input[T any](m *Mocker, port any, items []T) {
	InputWithTags(m, port, items, nil)
}

// InputWithTags is Input with item tags attached at the given offsets.
func InputWithTags[T any](m *Mocker, port any, items []T, tags []runtime.ItemTag) {
	half, err := m.block.InputReader(runtime.Port(port))
	if err != nil {
		panic(err)
	}
	r, ok := half.(*runtime.CircularReader[T])
	if !ok {
		panic(fmt.Sprintf("input %v is not a circular reader of %T", port, *new(T)))
	}

	w := runtime.NewCircularWriter[T]()
	w.SetMinBufferSizeInItems(len(items))
	w.Init(-1, runtime.PortName("mock"), m.feeds)
	if err := w.Connect(r); err != nil {
		panic(err)
	}

	buf := w.Slice()
	if len(buf) < len(items) {
		panic(fmt.Sprintf("mock ring too small: %d < %d", len(buf), len(items)))
	}
	copy(buf, items)
	for _, t := range tags {
		w.AddTag(t.Offset, t.Value)
	}
	w.Produce(len(items))
	w.NotifyFinished(context.Background())
}

// InitOutput attaches a capture ring holding at least the given number of
// items to a stream output. The configured buffer size still applies, so the
// ring may be larger.
func InitOutput[T any](m *Mocker, port any, items int) {
	half, err := m.block.OutputWriter(runtime.Port(port))
	if err != nil {
		panic(err)
	}
	w, ok := half.(*runtime.CircularWriter[T])
	if !ok {
		panic(fmt.Sprintf("output %v is not a circular writer of %T", port, *new(T)))
	}

	r := runtime.NewCircularReader[T]()
	r.SetMinBufferSizeInItems(items)
	r.Init(-1, runtime.PortName("mock"), m.feeds)
	if err := w.Connect(r); err != nil {
		panic(err)
	}
	m.outputs[runtime.Port(port).String()] = r
}

// Output drains and returns everything captured on a stream output together
// with the observed tags. Tag offsets are relative to the first returned
// item.
func Output[T any](m *Mocker, port any) ([]T, []runtime.ItemTag) {
	stored, ok := m.outputs[runtime.Port(port).String()]
	if !ok {
		panic(fmt.Sprintf("output %v has no capture ring; call InitOutput first", port))
	}
	r := stored.(*runtime.CircularReader[T])

	var items []T
	var tags []runtime.ItemTag
	for {
		chunk, chunkTags := r.SliceWithTags()
		if len(chunk) == 0 {
			return items, tags
		}
		base := len(items)
		items = append(items, chunk...)
		for _, t := range chunkTags {
			tags = append(tags, runtime.ItemTag{Offset: base + t.Offset, Value: t.Value})
		}
		r.Consume(len(chunk))
	}
}

// Run drives the block to completion: init, repeated work honoring CallAgain
// and BlockOn, then deinit. It returns the kernel's terminal error, if any.
func (m *Mocker) Run(ctx context.Context) error {
	if err := m.block.InitKernel(); err != nil {
		return err
	}
	err := m.loop(ctx)
	if derr := m.block.DeinitKernel(); derr != nil && err == nil {
		err = derr
	}
	return err
}

func (m *Mocker) loop(ctx context.Context) error {
	inbox := m.block.Inbox()
	for {
		progressed := false
		for {
			msg, ok := inbox.TryRecv()
			if !ok {
				break
			}
			progressed = true
			if m.block.HandleMessage(ctx, &m.io, msg) {
				return nil
			}
		}
		if m.io.Finished {
			return nil
		}

		m.io.CallAgain = false
		if err := m.block.CallWork(ctx, &m.io); err != nil {
			return err
		}
		if m.io.Finished {
			return nil
		}
		if m.io.CallAgain {
			continue
		}
		if f := m.io.TakeBlockOn(); f != nil {
			f(ctx)
			continue
		}
		// Without fresh stimulus another invocation cannot make progress.
		if !progressed {
			return nil
		}
	}
}

// Call invokes a message handler on the block directly, bypassing the inbox.
func (m *Mocker) Call(ctx context.Context, port any, data pmt.Pmt) (pmt.Pmt, error) {
	reply := make(chan runtime.CallReply, 1)
	m.block.HandleMessage(ctx, &m.io, runtime.Call{Port: runtime.Port(port), Data: data, Reply: reply})
	r := <-reply
	return r.Data, r.Err
}
