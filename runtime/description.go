package runtime

import "github.com/gsdr-platform/gsdr/pmt"

// BlockDescription is the introspection record returned for a DescribeBlock
// request.
type BlockDescription struct {
	Id              BlockId
	Name            string
	InstanceName    string
	StreamInputs    []string
	StreamOutputs   []string
	MessageOutputs  []string
	MessageHandlers []string
}

// Description builds the block's introspection record.
func (b *Block) Description() BlockDescription {
	return BlockDescription{
		Id:              b.id,
		Name:            b.meta.Name(),
		InstanceName:    b.meta.InstanceName(),
		StreamInputs:    b.inputNames(),
		StreamOutputs:   b.outputNames(),
		MessageOutputs:  b.mio.names(),
		MessageHandlers: append([]string(nil), b.handlerNames...),
	}
}

// ToPmt renders the description as a Pmt map so it can travel the message
// plane.
func (d BlockDescription) ToPmt() pmt.Pmt {
	toVec := func(names []string) pmt.Vec {
		v := make(pmt.Vec, len(names))
		for i, n := range names {
			v[i] = pmt.String(n)
		}
		return v
	}
	return pmt.Map{
		"id":               pmt.I64(d.Id),
		"name":             pmt.String(d.Name),
		"instance_name":    pmt.String(d.InstanceName),
		"stream_inputs":    toVec(d.StreamInputs),
		"stream_outputs":   toVec(d.StreamOutputs),
		"message_outputs":  toVec(d.MessageOutputs),
		"message_handlers": toVec(d.MessageHandlers),
	}
}
