package runtime

import (
	"context"
	"fmt"
)

// gate bounds concurrently running work invocations. Tasks parked on their
// inbox hold no slot.
type gate interface {
	enter(ctx context.Context) error
	leave()
}

type noGate struct{}

func (noGate) enter(context.Context) error { return nil }
func (noGate) leave()                      {}

// blockTask drives one block through its lifecycle:
//
//	New → Initialized → { Running ⇄ Awaiting } → Terminating → Done
//
// Init hooks have already run when the task starts; the task begins in
// Running. The task is the only goroutine touching the block's state.
type blockTask struct {
	b    *Block
	fg   *Flowgraph
	gate gate
}

func (t *blockTask) run(ctx context.Context) (err error) {
	b := t.b
	io := &WorkIo{}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			// The kernel died mid-work; peers still need the finish
			// cascade or they park forever.
			t.terminate(ctx)
		}
		// Peers sending to a gone task must observe the edge as finished.
		b.inbox.Close()
		if err != nil {
			t.fg.recordError(b.id, err)
		}
	}()

	terminate := false
dispatch:
	for {
		// Drain all pending inbox messages before the work call.
		for {
			msg, ok := b.inbox.TryRecv()
			if !ok {
				break
			}
			if b.HandleMessage(ctx, io, msg) {
				terminate = true
			}
		}
		if terminate || io.Finished {
			break dispatch
		}

		io.reset()
		if gerr := t.gate.enter(ctx); gerr != nil {
			return gerr
		}
		werr := func() error {
			defer t.gate.leave()
			return b.CallWork(ctx, io)
		}()
		if werr != nil {
			err = werr
			break dispatch
		}
		if io.Finished {
			break dispatch
		}
		if io.CallAgain {
			continue
		}
		if f := io.TakeBlockOn(); f != nil {
			f(ctx)
			continue
		}

		// Park until at least one inbox message or wake-up arrives.
		msg, rerr := b.inbox.Recv(ctx)
		if rerr != nil {
			return rerr
		}
		if msg != nil && b.HandleMessage(ctx, io, msg) {
			terminate = true
		}
	}

	t.terminate(ctx)
	return err
}

// terminate propagates finish to every connected peer, posts Finished on the
// message plane and runs the deinit hook.
func (t *blockTask) terminate(ctx context.Context) {
	b := t.b

	// Close the inbox first: a peer blocked on a send to this block must
	// fail over to the finish path instead of deadlocking against our own
	// bounded sends below.
	b.inbox.Close()

	for _, p := range b.outputs {
		w := p.get()
		w.Finish()
		w.NotifyFinished(ctx)
	}
	for _, p := range b.inputs {
		r := p.get()
		r.Finish()
		r.NotifyFinished(ctx)
	}
	b.mio.notifyFinished(ctx)
	b.meta.active = false

	if err := b.DeinitKernel(); err != nil {
		t.fg.recordError(b.id, fmt.Errorf("deinit failed: %w", err))
	}
}
