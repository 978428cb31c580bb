package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/gsdr-platform/gsdr/pmt"
)

// Kernel is the user-authored computation of a block.
//
// Work observes inputs and produces outputs through the halves the kernel
// holds as struct fields, consuming and producing exactly what it processed.
// Work must not block synchronously; suspension goes through WorkIo.
type Kernel interface {
	Work(ctx context.Context, io *WorkIo, mio *MessageOutputs, meta *BlockMeta) error
}

// Initializer is implemented by kernels with a start-of-run hook. A returned
// error aborts the flowgraph.
type Initializer interface {
	Init(meta *BlockMeta) error
}

// Deinitializer is implemented by kernels with an end-of-run hook.
type Deinitializer interface {
	Deinit(meta *BlockMeta) error
}

// Handler is a message handler method. Handlers are discoverable by name and
// by declaration order; errors are returned to the caller over the reply
// channel and never terminate the block.
type Handler func(ctx context.Context, io *WorkIo, mio *MessageOutputs, meta *BlockMeta, data pmt.Pmt) (pmt.Pmt, error)

type streamInputPort struct {
	name string
	get  func() BufferReader
	set  func(BufferReader) error
}

type streamOutputPort struct {
	name string
	get  func() BufferWriter
	set  func(BufferWriter) error
}

// Block is the runtime wrapper around a kernel: its stream endpoints,
// message outputs, handlers and metadata. Blocks are created detached,
// added to a flowgraph, and owned exclusively by the runtime while running.
type Block struct {
	id   BlockId
	meta *BlockMeta

	kernel  Kernel
	inputs  []streamInputPort
	outputs []streamOutputPort
	mio     *MessageOutputs

	handlerNames []string
	handlers     []Handler

	inbox *Mailbox
}

// BlockOption configures a block at construction.
type BlockOption func(*Block)

// NewBlock wraps a kernel with its port declarations.
func NewBlock(name string, kernel Kernel, opts ...BlockOption) *Block {
	b := &Block{
		id:     -1,
		meta:   newBlockMeta(name),
		kernel: kernel,
		mio:    &MessageOutputs{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// StreamInput declares a stream input port backed by the given kernel field.
// The field holds the concrete reader half; a writer installed upstream
// through ConnectStreamWithBuffer must pair with this reader type.
func StreamInput[R BufferReader](name string, field *R) BlockOption {
	return func(b *Block) {
		b.inputs = append(b.inputs, streamInputPort{
			name: name,
			get:  func() BufferReader { return *field },
			set: func(v BufferReader) error {
				r, ok := v.(R)
				if !ok {
					return validationErrorf("input %q expects %T, got %T", name, *field, v)
				}
				*field = r
				return nil
			},
		})
	}
}

// StreamOutput declares a stream output port backed by the given kernel
// field.
func StreamOutput[W BufferWriter](name string, field *W) BlockOption {
	return func(b *Block) {
		b.outputs = append(b.outputs, streamOutputPort{
			name: name,
			get:  func() BufferWriter { return *field },
			set: func(v BufferWriter) error {
				w, ok := v.(W)
				if !ok {
					return validationErrorf("output %q expects %T, got %T", name, *field, v)
				}
				*field = w
				return nil
			},
		})
	}
}

// MessageOutputPort declares a named message output.
func MessageOutputPort(name string) BlockOption {
	return func(b *Block) {
		b.mio.outputs = append(b.mio.outputs, &MessageOutput{name: name})
	}
}

// MessageHandler declares a named message handler. Declaration order defines
// the handler's index.
func MessageHandler(name string, h Handler) BlockOption {
	return func(b *Block) {
		b.handlerNames = append(b.handlerNames, name)
		b.handlers = append(b.handlers, h)
	}
}

// InstanceName sets the per-flowgraph instance name.
func InstanceName(name string) BlockOption {
	return func(b *Block) {
		b.meta.SetInstanceName(name)
	}
}

// Id returns the flowgraph-assigned block id, or -1 while detached.
func (b *Block) Id() BlockId {
	return b.id
}

// Meta returns the block metadata.
func (b *Block) Meta() *BlockMeta {
	return b.meta
}

// MessageOutputs returns the block's message outputs.
func (b *Block) MessageOutputs() *MessageOutputs {
	return b.mio
}

// Inbox returns the block's mailbox. It is nil until the block is spawned.
func (b *Block) Inbox() *Mailbox {
	return b.inbox
}

func (b *Block) inputNames() []string {
	names := make([]string, len(b.inputs))
	for i, p := range b.inputs {
		names[i] = p.name
	}
	return names
}

func (b *Block) outputNames() []string {
	names := make([]string, len(b.outputs))
	for i, p := range b.outputs {
		names[i] = p.name
	}
	return names
}

// InputReader resolves a stream input half by port id.
func (b *Block) InputReader(id PortId) (BufferReader, error) {
	idx := resolvePort(id, b.inputNames())
	if idx < 0 {
		return nil, validationErrorf("%s has no stream input %s", b.meta.InstanceName(), id)
	}
	return b.inputs[idx].get(), nil
}

// OutputWriter resolves a stream output half by port id.
func (b *Block) OutputWriter(id PortId) (BufferWriter, error) {
	idx := resolvePort(id, b.outputNames())
	if idx < 0 {
		return nil, validationErrorf("%s has no stream output %s", b.meta.InstanceName(), id)
	}
	return b.outputs[idx].get(), nil
}

// setOutputWriter installs a caller-provided writer half on the named output
// port, validating that its type matches the kernel's declared field.
func (b *Block) setOutputWriter(id PortId, w BufferWriter) error {
	idx := resolvePort(id, b.outputNames())
	if idx < 0 {
		return validationErrorf("%s has no stream output %s", b.meta.InstanceName(), id)
	}
	return b.outputs[idx].set(w)
}

// resolveHandler returns the canonical name-addressed PortId of a handler.
func (b *Block) resolveHandler(id PortId) (PortId, error) {
	idx := resolvePort(id, b.handlerNames)
	if idx < 0 {
		return PortId{}, ErrInvalidMessagePort
	}
	return PortName(b.handlerNames[idx]), nil
}

// Spawn attaches the mailbox, assigns the block-scoped logger and binds all
// stream halves to the block. It is called by the runtime at start and by
// the mocker for standalone blocks.
func (b *Block) Spawn(queueSize int, log *zap.SugaredLogger) {
	b.inbox = NewMailbox(queueSize)
	b.meta.log = log.With("block", b.meta.InstanceName(), "id", int(b.id))
	for _, p := range b.inputs {
		p.get().Init(b.id, PortName(p.name), b.inbox)
	}
	for _, p := range b.outputs {
		p.get().Init(b.id, PortName(p.name), b.inbox)
	}
}

// HandleMessage applies one inbox message to the block's port state and
// handlers. It reports whether the block must terminate now. Used by the
// schedulers and by the mocker.
func (b *Block) HandleMessage(ctx context.Context, io *WorkIo, msg BlockMessage) bool {
	switch m := msg.(type) {
	case StreamInputDone:
		if idx := resolvePort(m.Port, b.inputNames()); idx >= 0 {
			b.inputs[idx].get().Finish()
		}
	case StreamOutputDone:
		if idx := resolvePort(m.Port, b.outputNames()); idx >= 0 {
			b.outputs[idx].get().Finish()
		}
	case Call:
		data, err := b.callHandler(ctx, io, m.Port, m.Data)
		if m.Reply != nil {
			select {
			case m.Reply <- CallReply{Data: data, Err: err}:
			default:
				b.meta.Log().Warnw("dropping handler reply, channel full",
					"port", m.Port.String())
			}
		}
	case DescribeBlock:
		if m.Reply != nil {
			select {
			case m.Reply <- b.Description():
			default:
			}
		}
	case Terminate:
		return true
	}
	return false
}

func (b *Block) callHandler(ctx context.Context, io *WorkIo, port PortId, data pmt.Pmt) (pmt.Pmt, error) {
	idx := resolvePort(port, b.handlerNames)
	if idx < 0 {
		return nil, ErrInvalidMessagePort
	}
	return b.handlers[idx](ctx, io, b.mio, b.meta, data)
}

// CallWork runs one work invocation. Used by the schedulers and by the
// mocker.
func (b *Block) CallWork(ctx context.Context, io *WorkIo) error {
	return b.kernel.Work(ctx, io, b.mio, b.meta)
}

// InitKernel runs the kernel's optional init hook.
func (b *Block) InitKernel() error {
	if i, ok := b.kernel.(Initializer); ok {
		return i.Init(b.meta)
	}
	return nil
}

// DeinitKernel runs the kernel's optional deinit hook.
func (b *Block) DeinitKernel() error {
	if d, ok := b.kernel.(Deinitializer); ok {
		return d.Deinit(b.meta)
	}
	return nil
}
