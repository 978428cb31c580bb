package runtime

import "github.com/gsdr-platform/gsdr/pmt"

// BlockMessage is a control-plane message delivered to a block's inbox.
//
// The scheduler drains all pending messages before every work invocation.
// Wake-ups without payload travel on a dedicated coalesced notify lane (see
// Mailbox) rather than as inbox entries.
type BlockMessage interface {
	isBlockMessage()
}

// StreamInputDone marks the named input reader as finished. Sent by the
// upstream writer when it finalizes.
type StreamInputDone struct {
	Port PortId
}

// StreamOutputDone marks the named output writer as finished. Sent by the
// downstream reader when it finalizes; also used to cascade shutdown
// upstream.
type StreamOutputDone struct {
	Port PortId
}

// CallReply carries a handler result back to the caller.
type CallReply struct {
	Data pmt.Pmt
	Err  error
}

// Call invokes a message handler on the receiving block. If Reply is non-nil
// the handler's result (or error) is sent back on it; the channel must have
// capacity for one reply.
type Call struct {
	Port  PortId
	Data  pmt.Pmt
	Reply chan<- CallReply
}

// DescribeBlock requests block introspection. The description is sent on
// Reply, which must have capacity for one entry.
type DescribeBlock struct {
	Reply chan<- BlockDescription
}

// Terminate is a hard stop: the block skips directly to termination without
// another work invocation.
type Terminate struct{}

func (StreamInputDone) isBlockMessage()  {}
func (StreamOutputDone) isBlockMessage() {}
func (Call) isBlockMessage()             {}
func (DescribeBlock) isBlockMessage()    {}
func (Terminate) isBlockMessage()        {}
