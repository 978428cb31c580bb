package blocks

import (
	"context"

	"github.com/gsdr-platform/gsdr/runtime"
	"github.com/gsdr-platform/gsdr/runtime/circuit"
)

// InplaceSource fills circuit buffers with generated items. Buffers must be
// injected into the block's writer before the run; the source parks whenever
// the empties queue runs dry and resumes when buffers return on the closed
// circuit.
type InplaceSource[T any] struct {
	Out *circuit.Writer[T]

	gen      func(int) T
	total    int
	produced int
}

// NewInplaceSource creates a circuit source generating total items through
// gen. The kernel is returned so the caller can inject buffers and close the
// circuit on its writer.
func NewInplaceSource[T any](total int, gen func(int) T) (*runtime.Block, *InplaceSource[T]) {
	k := &InplaceSource[T]{
		Out:   circuit.NewWriter[T](),
		gen:   gen,
		total: total,
	}
	b := runtime.NewBlock("InplaceSource", k,
		runtime.StreamOutput("out", &k.Out),
	)
	return b, k
}

// Work implements runtime.Kernel.
func (k *InplaceSource[T]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	if k.Out.Finished() {
		io.Finished = true
		return nil
	}
	for k.produced < k.total {
		b := k.Out.GetEmptyBuffer()
		if b == nil {
			// Park until a buffer returns on the circuit.
			return nil
		}
		n := min(len(b.Data), k.total-k.produced)
		for i := range n {
			b.Data[i] = k.gen(k.produced + i)
		}
		b.Valid = n
		k.produced += n
		k.Out.PutFullBuffer(b)
	}
	io.Finished = true
	return nil
}

// InplaceApply mutates each circuit buffer in place and forwards it, keeping
// buffer ownership moving down the lane without copies.
type InplaceApply[T any] struct {
	In  *circuit.Reader[T]
	Out *circuit.Writer[T]

	f func([]T)
}

// NewInplaceApply creates an in-place transform over whole buffers.
func NewInplaceApply[T any](f func([]T)) *runtime.Block {
	k := &InplaceApply[T]{
		In:  circuit.NewReader[T](),
		Out: circuit.NewWriter[T](),
		f:   f,
	}
	return runtime.NewBlock("InplaceApply", k,
		runtime.StreamInput("in", &k.In),
		runtime.StreamOutput("out", &k.Out),
	)
}

// Work implements runtime.Kernel.
func (k *InplaceApply[T]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	for {
		b := k.In.GetFullBuffer()
		if b == nil {
			break
		}
		k.f(b.Slice())
		k.Out.PutFullBuffer(b)
	}
	if k.In.Finished() || k.Out.Finished() {
		io.Finished = true
	}
	return nil
}

// InplaceSink collects buffer contents and returns the consumed buffers,
// which re-enter the origin's empties queue when the circuit is closed.
type InplaceSink[T any] struct {
	In *circuit.Reader[T]

	items []T
}

// NewInplaceSink creates a collecting circuit sink. The kernel is returned
// so the caller can close the circuit on its reader and read the collected
// items.
func NewInplaceSink[T any]() (*runtime.Block, *InplaceSink[T]) {
	k := &InplaceSink[T]{In: circuit.NewReader[T]()}
	b := runtime.NewBlock("InplaceSink", k,
		runtime.StreamInput("in", &k.In),
	)
	return b, k
}

// Work implements runtime.Kernel.
func (k *InplaceSink[T]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	for {
		b := k.In.GetFullBuffer()
		if b == nil {
			break
		}
		k.items = append(k.items, b.Slice()...)
		k.In.PutEmptyBuffer(b)
	}
	if k.In.Finished() {
		io.Finished = true
	}
	return nil
}

// Items returns the collected items. Valid after the run has finished.
func (k *InplaceSink[T]) Items() []T {
	return k.items
}
