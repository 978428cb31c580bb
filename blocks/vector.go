// Package blocks provides the small set of source, sink and transform blocks
// used to exercise the runtime in tests and benchmarks.
package blocks

import (
	"context"

	"github.com/gsdr-platform/gsdr/runtime"
)

// VectorSource emits a fixed slice of items and terminates.
type VectorSource[T any] struct {
	Out *runtime.CircularWriter[T]

	items []T
	tags  []runtime.ItemTag
	pos   int
}

// NewVectorSource creates a source emitting items.
func NewVectorSource[T any](items []T) *runtime.Block {
	return NewVectorSourceWithTags(items, nil)
}

// NewVectorSourceWithTags creates a source emitting items with tags attached
// at the given offsets within the emitted stream.
func NewVectorSourceWithTags[T any](items []T, tags []runtime.ItemTag) *runtime.Block {
	k := &VectorSource[T]{
		Out:   runtime.NewCircularWriter[T](),
		items: items,
		tags:  tags,
	}
	return runtime.NewBlock("VectorSource", k,
		runtime.StreamOutput("out", &k.Out),
	)
}

// Work implements runtime.Kernel.
func (k *VectorSource[T]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	if k.Out.Finished() {
		io.Finished = true
		return nil
	}
	out := k.Out.Slice()
	n := min(len(out), len(k.items)-k.pos)
	copy(out[:n], k.items[k.pos:k.pos+n])
	for _, t := range k.tags {
		if t.Offset >= k.pos && t.Offset < k.pos+n {
			k.Out.AddTag(t.Offset-k.pos, t.Value)
		}
	}
	k.Out.Produce(n)
	k.pos += n
	if k.pos == len(k.items) {
		io.Finished = true
	}
	return nil
}

// VectorSink collects everything it receives.
type VectorSink[T any] struct {
	In *runtime.CircularReader[T]

	items []T
	tags  []runtime.ItemTag
}

// NewVectorSink creates a collecting sink. The returned kernel exposes the
// collected items once the run has finished.
func NewVectorSink[T any]() (*runtime.Block, *VectorSink[T]) {
	k := &VectorSink[T]{In: runtime.NewCircularReader[T]()}
	b := runtime.NewBlock("VectorSink", k,
		runtime.StreamInput("in", &k.In),
	)
	return b, k
}

// Work implements runtime.Kernel.
func (k *VectorSink[T]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	in, tags := k.In.SliceWithTags()
	base := len(k.items)
	k.items = append(k.items, in...)
	for _, t := range tags {
		k.tags = append(k.tags, runtime.ItemTag{Offset: base + t.Offset, Value: t.Value})
	}
	k.In.Consume(len(in))
	if k.In.Finished() {
		io.Finished = true
	}
	return nil
}

// Items returns the collected items. Valid after the run has finished.
func (k *VectorSink[T]) Items() []T {
	return k.items
}

// Tags returns the observed tags with offsets relative to the start of the
// collected stream.
func (k *VectorSink[T]) Tags() []runtime.ItemTag {
	return k.tags
}
