package blocks

import (
	"context"

	"github.com/gsdr-platform/gsdr/runtime"
)

// Copy forwards its input to its output unchanged, preserving tags.
type Copy[T any] struct {
	In  *runtime.CircularReader[T]
	Out *runtime.CircularWriter[T]
}

// NewCopy creates a pass-through block.
func NewCopy[T any]() *runtime.Block {
	k := &Copy[T]{
		In:  runtime.NewCircularReader[T](),
		Out: runtime.NewCircularWriter[T](),
	}
	return runtime.NewBlock("Copy", k,
		runtime.StreamInput("in", &k.In),
		runtime.StreamOutput("out", &k.Out),
	)
}

// Work implements runtime.Kernel.
func (k *Copy[T]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	in, tags := k.In.SliceWithTags()
	out := k.Out.Slice()
	n := min(len(in), len(out))
	copy(out[:n], in[:n])
	for _, t := range tags {
		if t.Offset < n {
			k.Out.AddTag(t.Offset, t.Value)
		}
	}
	k.In.Consume(n)
	k.Out.Produce(n)
	if k.In.Finished() || k.Out.Finished() {
		io.Finished = true
	}
	return nil
}

// Apply maps a function over every stream item.
type Apply[A, B any] struct {
	In  *runtime.CircularReader[A]
	Out *runtime.CircularWriter[B]

	f func(A) B
}

// NewApply creates a block applying f to each item.
func NewApply[A, B any](f func(A) B) *runtime.Block {
	k := &Apply[A, B]{
		In:  runtime.NewCircularReader[A](),
		Out: runtime.NewCircularWriter[B](),
		f:   f,
	}
	return runtime.NewBlock("Apply", k,
		runtime.StreamInput("in", &k.In),
		runtime.StreamOutput("out", &k.Out),
	)
}

// Work implements runtime.Kernel.
func (k *Apply[A, B]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	in, _ := k.In.SliceWithTags()
	out := k.Out.Slice()
	n := min(len(in), len(out))
	for i := range n {
		out[i] = k.f(in[i])
	}
	k.In.Consume(n)
	k.Out.Produce(n)
	if k.In.Finished() || k.Out.Finished() {
		io.Finished = true
	}
	return nil
}

// Combine merges two input streams with a binary function.
type Combine[A, B, C any] struct {
	In0 *runtime.CircularReader[A]
	In1 *runtime.CircularReader[B]
	Out *runtime.CircularWriter[C]

	f func(A, B) C
}

// NewCombine creates a block combining paired samples of both inputs.
func NewCombine[A, B, C any](f func(A, B) C) *runtime.Block {
	k := &Combine[A, B, C]{
		In0: runtime.NewCircularReader[A](),
		In1: runtime.NewCircularReader[B](),
		Out: runtime.NewCircularWriter[C](),
		f:   f,
	}
	return runtime.NewBlock("Combine", k,
		runtime.StreamInput("in0", &k.In0),
		runtime.StreamInput("in1", &k.In1),
		runtime.StreamOutput("out", &k.Out),
	)
}

// Work implements runtime.Kernel.
func (k *Combine[A, B, C]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	i0, _ := k.In0.SliceWithTags()
	i1, _ := k.In1.SliceWithTags()
	out := k.Out.Slice()
	n := min(len(i0), len(i1), len(out))
	for i := range n {
		out[i] = k.f(i0[i], i1[i])
	}
	k.In0.Consume(n)
	k.In1.Consume(n)
	k.Out.Produce(n)
	// A drained input means no further pair can form.
	if k.In0.Finished() || k.In1.Finished() || k.Out.Finished() {
		io.Finished = true
	}
	return nil
}

// Head forwards the first n items, then terminates.
type Head[T any] struct {
	In  *runtime.CircularReader[T]
	Out *runtime.CircularWriter[T]

	remaining uint64
}

// NewHead creates a block passing n items through.
func NewHead[T any](n uint64) *runtime.Block {
	k := &Head[T]{
		In:        runtime.NewCircularReader[T](),
		Out:       runtime.NewCircularWriter[T](),
		remaining: n,
	}
	return runtime.NewBlock("Head", k,
		runtime.StreamInput("in", &k.In),
		runtime.StreamOutput("out", &k.Out),
	)
}

// Work implements runtime.Kernel.
func (k *Head[T]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	in, _ := k.In.SliceWithTags()
	out := k.Out.Slice()
	n := min(len(in), len(out), int(min(k.remaining, uint64(1<<31))))
	copy(out[:n], in[:n])
	k.In.Consume(n)
	k.Out.Produce(n)
	k.remaining -= uint64(n)
	if k.remaining == 0 || k.In.Finished() || k.Out.Finished() {
		io.Finished = true
	}
	return nil
}
