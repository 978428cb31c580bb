package runtime

import "github.com/gsdr-platform/gsdr/pmt"

// ItemTag annotates a single stream item with a Pmt value.
//
// Offset is the item index within the slice at the moment of observation:
// writers attach tags relative to the start of the current writable slice,
// readers observe them relative to the start of the current readable slice.
// Tags travel with the stream and are re-based as items are consumed. A tag
// whose item has been consumed is dropped. Multiple tags attached to the same
// offset are preserved in insertion order.
type ItemTag struct {
	Offset int
	Value  pmt.Pmt
}
