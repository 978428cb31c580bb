package blocks

import (
	"context"

	"github.com/gsdr-platform/gsdr/pmt"
	"github.com/gsdr-platform/gsdr/runtime"
)

// MessageBurst posts a message a given number of times and terminates.
type MessageBurst struct {
	message pmt.Pmt
	count   uint64
}

// NewMessageBurst creates a burst source on message output "out".
func NewMessageBurst(message pmt.Pmt, count uint64) *runtime.Block {
	k := &MessageBurst{message: message, count: count}
	return runtime.NewBlock("MessageBurst", k,
		runtime.MessageOutputPort("out"),
	)
}

// Work implements runtime.Kernel.
func (k *MessageBurst) Work(ctx context.Context, io *runtime.WorkIo, mio *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	for range k.count {
		if err := mio.Post(ctx, "out", pmt.Clone(k.message)); err != nil {
			return err
		}
	}
	io.Finished = true
	return nil
}

// MessageApply applies a callback to each incoming message and posts the
// result on "out". Nil results are filtered out. Receiving the Finished
// control Pmt terminates the block.
type MessageApply struct {
	f func(pmt.Pmt) (pmt.Pmt, error)
}

// NewMessageApply creates a message transformer with handler "in" and
// message output "out".
func NewMessageApply(f func(pmt.Pmt) (pmt.Pmt, error)) *runtime.Block {
	k := &MessageApply{f: f}
	return runtime.NewBlock("MessageApply", k,
		runtime.MessageOutputPort("out"),
		runtime.MessageHandler("in", k.handle),
	)
}

// Work implements runtime.Kernel. The block is handler-driven.
func (k *MessageApply) Work(context.Context, *runtime.WorkIo, *runtime.MessageOutputs, *runtime.BlockMeta) error {
	return nil
}

func (k *MessageApply) handle(ctx context.Context, io *runtime.WorkIo, mio *runtime.MessageOutputs, _ *runtime.BlockMeta, data pmt.Pmt) (pmt.Pmt, error) {
	if data == pmt.Finished {
		io.Finished = true
		return pmt.OK, nil
	}
	out, err := k.f(data)
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := mio.Post(ctx, "out", out); err != nil {
			return nil, err
		}
	}
	return pmt.OK, nil
}

// MessageSink collects every received message. Receiving the Finished
// control Pmt terminates the block.
type MessageSink struct {
	messages []pmt.Pmt
}

// NewMessageSink creates a collecting message sink with handler "in".
func NewMessageSink() (*runtime.Block, *MessageSink) {
	k := &MessageSink{}
	b := runtime.NewBlock("MessageSink", k,
		runtime.MessageHandler("in", k.handle),
	)
	return b, k
}

// Work implements runtime.Kernel. The block is handler-driven.
func (k *MessageSink) Work(context.Context, *runtime.WorkIo, *runtime.MessageOutputs, *runtime.BlockMeta) error {
	return nil
}

func (k *MessageSink) handle(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta, data pmt.Pmt) (pmt.Pmt, error) {
	if data == pmt.Finished {
		io.Finished = true
		return pmt.OK, nil
	}
	k.messages = append(k.messages, data)
	return pmt.OK, nil
}

// Messages returns the collected messages. Valid after the run has finished.
func (k *MessageSink) Messages() []pmt.Pmt {
	return k.messages
}
