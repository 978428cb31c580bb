package runtime

import (
	"fmt"
	"sync"
)

type streamEdge struct {
	src     BlockId
	srcPort PortId
	dst     BlockId
	dstPort PortId
}

type messageEdge struct {
	src     BlockId
	srcPort PortId
	dst     BlockId
	dstPort PortId
}

// Flowgraph holds the set of blocks and their stream and message edges. It
// is assembled by the user and handed to a Runtime as a whole; it must not
// be mutated after the run starts.
type Flowgraph struct {
	blocks       []*Block
	streamEdges  []streamEdge
	messageEdges []messageEdge

	mu          sync.Mutex
	blockErrors map[BlockId]error
}

// NewFlowgraph creates an empty flowgraph.
func NewFlowgraph() *Flowgraph {
	return &Flowgraph{
		blockErrors: map[BlockId]error{},
	}
}

// AddBlock takes ownership of the block and assigns its BlockId.
func (fg *Flowgraph) AddBlock(b *Block) BlockId {
	b.id = BlockId(len(fg.blocks))
	fg.blocks = append(fg.blocks, b)
	return b.id
}

// Block returns the block with the given id, or nil.
func (fg *Flowgraph) Block(id BlockId) *Block {
	if int(id) < 0 || int(id) >= len(fg.blocks) {
		return nil
	}
	return fg.blocks[id]
}

// Blocks returns the blocks in id order.
func (fg *Flowgraph) Blocks() []*Block {
	return fg.blocks
}

func (fg *Flowgraph) block(id BlockId) (*Block, error) {
	b := fg.Block(id)
	if b == nil {
		return nil, validationErrorf("unknown block %s", id)
	}
	return b, nil
}

// ConnectStream wires a stream edge between the source's output port and the
// destination's input port using the halves declared by the blocks. Port ids
// may be strings, ints or PortIds. The buffer pairing happens at start.
func (fg *Flowgraph) ConnectStream(src BlockId, srcPort any, dst BlockId, dstPort any) error {
	return fg.connectStream(src, Port(srcPort), dst, Port(dstPort), nil)
}

// ConnectStreamWithBuffer is ConnectStream with a caller-provided writer
// half (e.g. a circuit lane). The writer is installed on the source port; it
// must match the port's declared writer type, and its companion reader type
// must match the destination's declared reader type when the edge is paired
// at start.
func (fg *Flowgraph) ConnectStreamWithBuffer(src BlockId, srcPort any, dst BlockId, dstPort any, w BufferWriter) error {
	return fg.connectStream(src, Port(srcPort), dst, Port(dstPort), w)
}

func (fg *Flowgraph) connectStream(src BlockId, srcPort PortId, dst BlockId, dstPort PortId, w BufferWriter) error {
	srcBlock, err := fg.block(src)
	if err != nil {
		return err
	}
	dstBlock, err := fg.block(dst)
	if err != nil {
		return err
	}
	if _, err := srcBlock.OutputWriter(srcPort); err != nil {
		return err
	}
	if _, err := dstBlock.InputReader(dstPort); err != nil {
		return err
	}
	if w != nil {
		if err := srcBlock.setOutputWriter(srcPort, w); err != nil {
			return err
		}
	}
	fg.streamEdges = append(fg.streamEdges, streamEdge{
		src: src, srcPort: srcPort,
		dst: dst, dstPort: dstPort,
	})
	return nil
}

// ConnectMessage subscribes the destination's handler to the source's named
// message output. A message output may fan out to multiple handlers or stay
// unconnected.
func (fg *Flowgraph) ConnectMessage(src BlockId, srcPort any, dst BlockId, dstPort any) error {
	srcBlock, err := fg.block(src)
	if err != nil {
		return err
	}
	dstBlock, err := fg.block(dst)
	if err != nil {
		return err
	}
	srcId := Port(srcPort)
	if srcBlock.mio.Output(srcId) == nil {
		return validationErrorf("%s has no message output %s", srcBlock.meta.InstanceName(), srcId)
	}
	dstId, err := dstBlock.resolveHandler(Port(dstPort))
	if err != nil {
		return validationErrorf("%s has no message handler %s", dstBlock.meta.InstanceName(), Port(dstPort))
	}
	fg.messageEdges = append(fg.messageEdges, messageEdge{
		src: src, srcPort: srcId,
		dst: dst, dstPort: dstId,
	})
	return nil
}

// validate checks that every declared stream port is connected exactly once.
// Message ports are free to fan out or stay unconnected. Back-edges are
// permitted; no acyclicity is assumed.
func (fg *Flowgraph) validate() error {
	type endpoint struct {
		block BlockId
		port  int
	}
	outUse := map[endpoint]int{}
	inUse := map[endpoint]int{}

	for _, e := range fg.streamEdges {
		srcBlock := fg.blocks[e.src]
		dstBlock := fg.blocks[e.dst]
		outIdx := resolvePort(e.srcPort, srcBlock.outputNames())
		inIdx := resolvePort(e.dstPort, dstBlock.inputNames())
		outUse[endpoint{e.src, outIdx}]++
		inUse[endpoint{e.dst, inIdx}]++
	}

	for _, b := range fg.blocks {
		for i, p := range b.outputs {
			switch n := outUse[endpoint{b.id, i}]; {
			case n == 0:
				return validationErrorf("stream output %s:%s is not connected",
					b.meta.InstanceName(), p.name)
			case n > 1:
				return validationErrorf("stream output %s:%s is connected %d times",
					b.meta.InstanceName(), p.name, n)
			}
		}
		for i, p := range b.inputs {
			switch n := inUse[endpoint{b.id, i}]; {
			case n == 0:
				return validationErrorf("stream input %s:%s is not connected",
					b.meta.InstanceName(), p.name)
			case n > 1:
				return validationErrorf("stream input %s:%s is connected %d times",
					b.meta.InstanceName(), p.name, n)
			}
		}
	}
	return nil
}

// recordError stores a block's terminal error in the flowgraph's pending
// error slot.
func (fg *Flowgraph) recordError(id BlockId, err error) {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	if _, ok := fg.blockErrors[id]; !ok {
		fg.blockErrors[id] = err
	}
}

// BlockErrors returns the errors recorded during the run, by block id.
func (fg *Flowgraph) BlockErrors() map[BlockId]error {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	out := make(map[BlockId]error, len(fg.blockErrors))
	for id, err := range fg.blockErrors {
		out[id] = err
	}
	return out
}

func (fg *Flowgraph) String() string {
	return fmt.Sprintf("flowgraph{blocks: %d, stream edges: %d, message edges: %d}",
		len(fg.blocks), len(fg.streamEdges), len(fg.messageEdges))
}
