package runtime

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Topology is derived from the flowgraph at start. It maps each block to its
// inbox and keeps the edge sets used for shutdown fan-out.
type Topology struct {
	fg      *Flowgraph
	inboxes map[BlockId]*Mailbox
}

func newTopology(fg *Flowgraph) *Topology {
	top := &Topology{
		fg:      fg,
		inboxes: make(map[BlockId]*Mailbox, len(fg.blocks)),
	}
	for _, b := range fg.blocks {
		top.inboxes[b.id] = b.inbox
	}
	return top
}

// Inbox returns the inbox sender for the given block.
func (t *Topology) Inbox(id BlockId) *Mailbox {
	return t.inboxes[id]
}

// Broadcast fans a message out to every block's inbox, suspending per block
// while its inbox is saturated. Closed inboxes (already-terminated blocks)
// are skipped.
func (t *Topology) Broadcast(ctx context.Context, msg BlockMessage) error {
	wg, ctx := errgroup.WithContext(ctx)
	for _, mbox := range t.inboxes {
		wg.Go(func() error {
			if err := mbox.Send(ctx, msg); err != nil && err != ErrMailboxClosed {
				return err
			}
			return nil
		})
	}
	return wg.Wait()
}
