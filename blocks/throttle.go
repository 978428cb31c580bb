package blocks

import (
	"context"
	"time"

	"github.com/gsdr-platform/gsdr/runtime"
)

// Throttle limits a stream to a given rate in items per second. Rate control
// is approximate: the block suspends through the scheduler's block-on
// mechanism rather than blocking its task.
type Throttle[T any] struct {
	In  *runtime.CircularReader[T]
	Out *runtime.CircularWriter[T]

	rate    float64
	started time.Time
	sent    uint64
}

// NewThrottle creates a rate-limiting pass-through.
func NewThrottle[T any](rate float64) *runtime.Block {
	k := &Throttle[T]{
		In:   runtime.NewCircularReader[T](),
		Out:  runtime.NewCircularWriter[T](),
		rate: rate,
	}
	return runtime.NewBlock("Throttle", k,
		runtime.StreamInput("in", &k.In),
		runtime.StreamOutput("out", &k.Out),
	)
}

// Work implements runtime.Kernel.
func (k *Throttle[T]) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	now := time.Now()
	if k.started.IsZero() {
		k.started = now
	}

	budget := uint64(k.rate * now.Sub(k.started).Seconds())
	allowed := 0
	if budget > k.sent {
		allowed = int(budget - k.sent)
	}

	in, _ := k.In.SliceWithTags()
	out := k.Out.Slice()
	n := min(len(in), len(out), allowed)
	copy(out[:n], in[:n])
	k.In.Consume(n)
	k.Out.Produce(n)
	k.sent += uint64(n)

	if k.In.Finished() || k.Out.Finished() {
		io.Finished = true
		return nil
	}
	if n == len(in) {
		// Nothing more to pass right now; wake on the next produce.
		return nil
	}

	// Input is waiting on the rate budget; sleep one refill interval.
	interval := time.Duration(float64(time.Second) * float64(len(in)-n) / k.rate)
	interval = max(min(interval, 100*time.Millisecond), time.Millisecond)
	io.BlockOn(func(ctx context.Context) {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
		}
	})
	return nil
}
