package runtime

import (
	"context"
	"errors"

	"github.com/gsdr-platform/gsdr/pmt"
)

// subscriber is one message edge endpoint: the destination handler port and
// the destination block's inbox.
type subscriber struct {
	port PortId
	mbox *Mailbox
}

// MessageOutput is a named fan-out of bounded senders to subscribed handlers
// on other blocks. Every post is awaited, so back-pressure is inherent.
type MessageOutput struct {
	name string
	subs []subscriber
}

// Name returns the declared output name.
func (o *MessageOutput) Name() string {
	return o.name
}

// Connected reports whether any handler subscribed to this output.
func (o *MessageOutput) Connected() bool {
	return len(o.subs) > 0
}

func (o *MessageOutput) subscribe(port PortId, mbox *Mailbox) {
	o.subs = append(o.subs, subscriber{port: port, mbox: mbox})
}

// Post delivers data to every subscriber, suspending while a subscriber's
// inbox is saturated. With multiple subscribers the payload is cloned per
// delivery. A closed subscriber inbox counts as a finished edge and is
// skipped from then on.
func (o *MessageOutput) Post(ctx context.Context, data pmt.Pmt) error {
	for i := range o.subs {
		sub := &o.subs[i]
		if sub.mbox == nil {
			continue
		}
		payload := data
		if len(o.subs) > 1 {
			payload = pmt.Clone(data)
		}
		err := sub.mbox.Send(ctx, Call{Port: sub.port, Data: payload})
		if errors.Is(err, ErrMailboxClosed) {
			sub.mbox = nil
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// MessageOutputs is the set of a block's named message outputs.
type MessageOutputs struct {
	outputs []*MessageOutput
}

// Output resolves an output by index, name, or PortId. It returns nil when
// no output matches.
func (m *MessageOutputs) Output(id any) *MessageOutput {
	idx := resolvePort(Port(id), m.names())
	if idx < 0 {
		return nil
	}
	return m.outputs[idx]
}

// Post delivers data on the addressed output.
func (m *MessageOutputs) Post(ctx context.Context, id any, data pmt.Pmt) error {
	o := m.Output(id)
	if o == nil {
		return ErrInvalidMessagePort
	}
	return o.Post(ctx, data)
}

// notifyFinished posts the Finished control Pmt to every subscriber of every
// output, signalling voluntary termination to message sinks downstream.
func (m *MessageOutputs) notifyFinished(ctx context.Context) {
	for _, o := range m.outputs {
		// Delivery failures during shutdown mean the peer is already gone.
		_ = o.Post(ctx, pmt.Finished)
	}
}

func (m *MessageOutputs) names() []string {
	names := make([]string, len(m.outputs))
	for i, o := range m.outputs {
		names[i] = o.name
	}
	return names
}
