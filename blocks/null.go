package blocks

import (
	"context"

	"github.com/gsdr-platform/gsdr/runtime"
)

// NullSource produces zero-valued items forever. Pair it with Head to bound
// a benchmark run.
type NullSource[T any] struct {
	Out *runtime.CircularWriter[T]
}

// NewNullSource creates an unbounded zero source.
func NewNullSource[T any]() *runtime.Block {
	k := &NullSource[T]{Out: runtime.NewCircularWriter[T]()}
	return runtime.NewBlock("NullSource", k,
		runtime.StreamOutput("out", &k.Out),
	)
}

// Work implements runtime.Kernel.
func (k *NullSource[T]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	out := k.Out.Slice()
	var zero T
	for i := range out {
		out[i] = zero
	}
	k.Out.Produce(len(out))
	if k.Out.Finished() {
		io.Finished = true
	}
	return nil
}

// NullSink consumes and counts everything it receives.
type NullSink[T any] struct {
	In *runtime.CircularReader[T]

	count uint64
}

// NewNullSink creates a counting sink.
func NewNullSink[T any]() (*runtime.Block, *NullSink[T]) {
	k := &NullSink[T]{In: runtime.NewCircularReader[T]()}
	b := runtime.NewBlock("NullSink", k,
		runtime.StreamInput("in", &k.In),
	)
	return b, k
}

// Work implements runtime.Kernel.
func (k *NullSink[T]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	in, _ := k.In.SliceWithTags()
	k.In.Consume(len(in))
	k.count += uint64(len(in))
	if k.In.Finished() {
		io.Finished = true
	}
	return nil
}

// Count returns the number of consumed items. Valid after the run has
// finished.
func (k *NullSink[T]) Count() uint64 {
	return k.count
}
