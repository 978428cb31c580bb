package runtime

import "context"

// WorkIo is the per-invocation control record a kernel mutates to talk to
// the scheduler.
type WorkIo struct {
	// CallAgain requests an immediate re-invocation without parking on the
	// inbox. Reset before every work call.
	CallAgain bool
	// Finished signals voluntary termination. Setting it is the only way for
	// a kernel to terminate; the runtime never infers termination from
	// drained streams alone.
	Finished bool

	blockOn func(ctx context.Context)
}

// BlockOn suspends the block until f returns, then re-enters dispatch. This
// is the only sanctioned way for a kernel to wait on timers or external I/O;
// work itself must not block synchronously.
func (io *WorkIo) BlockOn(f func(ctx context.Context)) {
	io.blockOn = f
}

// reset clears the per-invocation fields. Finished is sticky.
func (io *WorkIo) reset() {
	io.CallAgain = false
	io.blockOn = nil
}

// TakeBlockOn returns and clears the pending block-on future. It is
// consumed by the schedulers and by the mocker.
func (io *WorkIo) TakeBlockOn() func(ctx context.Context) {
	f := io.blockOn
	io.blockOn = nil
	return f
}
