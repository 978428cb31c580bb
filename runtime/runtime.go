package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/gsdr-platform/gsdr/pmt"
)

type minItemsSetter interface {
	SetMinItems(int)
}

type bufferSizeSetter interface {
	SetBufferSize(datasize.ByteSize)
}

// Runtime drives flowgraphs to completion.
type Runtime struct {
	cfg *Config
	log *zap.SugaredLogger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithConfig sets the runtime configuration. It becomes the process-wide
// configuration when the first flowgraph starts.
func WithConfig(cfg *Config) RuntimeOption {
	return func(r *Runtime) {
		r.cfg = cfg
	}
}

// WithLog sets the runtime logger.
func WithLog(log *zap.SugaredLogger) RuntimeOption {
	return func(r *Runtime) {
		r.log = log
	}
}

// NewRuntime creates a runtime.
func NewRuntime(options ...RuntimeOption) *Runtime {
	r := &Runtime{
		log: zap.NewNop().Sugar(),
	}
	for _, o := range options {
		o(r)
	}
	if r.cfg == nil {
		r.cfg = CurrentConfig()
	}
	return r
}

// Run starts the flowgraph and blocks until every task is Done or abandoned.
// It returns nil when all blocks finished cleanly, a *ValidationError or
// *InitError when the flowgraph never started, and a *RuntimeError listing
// failed blocks otherwise.
func (r *Runtime) Run(ctx context.Context, fg *Flowgraph) error {
	h, err := r.Start(ctx, fg)
	if err != nil {
		return err
	}
	return h.Wait()
}

// Start validates, wires and spawns the flowgraph, returning a handle for
// control-plane interaction. The flowgraph must not be mutated afterwards.
func (r *Runtime) Start(ctx context.Context, fg *Flowgraph) (*FlowgraphHandle, error) {
	cfg := r.cfg
	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{Detail: err.Error()}
	}
	SetConfig(cfg)

	if err := fg.validate(); err != nil {
		return nil, err
	}

	r.log.Infow("starting flowgraph",
		"blocks", len(fg.blocks),
		"stream_edges", len(fg.streamEdges),
		"message_edges", len(fg.messageEdges),
		"scheduler", string(cfg.Scheduler))

	// Spawn inboxes and bind halves, applying per-block overrides before any
	// ring is allocated.
	for _, b := range fg.blocks {
		b.Spawn(cfg.QueueSize, r.log)
		o := cfg.overrideFor(b.meta.Name())
		if o == nil {
			o = cfg.overrideFor(b.meta.InstanceName())
		}
		if o == nil {
			continue
		}
		for _, p := range b.outputs {
			w := p.get()
			if s, ok := w.(bufferSizeSetter); ok && o.BufferSize > 0 {
				s.SetBufferSize(o.BufferSize)
			}
			if s, ok := w.(minItemsSetter); ok && o.MinItems > 0 {
				s.SetMinItems(o.MinItems)
			}
		}
		for _, p := range b.inputs {
			if s, ok := p.get().(minItemsSetter); ok && o.MinItems > 0 {
				s.SetMinItems(o.MinItems)
			}
		}
	}

	// Pair stream edges and validate every half.
	for _, e := range fg.streamEdges {
		w, err := fg.blocks[e.src].OutputWriter(e.srcPort)
		if err != nil {
			return nil, err
		}
		rd, err := fg.blocks[e.dst].InputReader(e.dstPort)
		if err != nil {
			return nil, err
		}
		if err := w.Connect(rd); err != nil {
			return nil, err
		}
	}
	for _, b := range fg.blocks {
		for _, p := range b.inputs {
			if err := p.get().Validate(); err != nil {
				return nil, err
			}
		}
		for _, p := range b.outputs {
			if err := p.get().Validate(); err != nil {
				return nil, err
			}
		}
	}

	// Bind message edges to destination inboxes.
	for _, e := range fg.messageEdges {
		fg.blocks[e.src].mio.Output(e.srcPort).subscribe(e.dstPort, fg.blocks[e.dst].inbox)
	}

	// Init hooks run before any task is spawned; a failure aborts the
	// flowgraph and deinitializes the blocks already initialized.
	for i, b := range fg.blocks {
		if err := b.InitKernel(); err != nil {
			for j := i - 1; j >= 0; j-- {
				if derr := fg.blocks[j].DeinitKernel(); derr != nil {
					r.log.Warnw("deinit during aborted start failed",
						"block", fg.blocks[j].meta.InstanceName(), "error", derr)
				}
			}
			return nil, &InitError{Block: b.id, Name: b.meta.InstanceName(), Err: err}
		}
	}

	tasks := make([]*blockTask, len(fg.blocks))
	for i, b := range fg.blocks {
		tasks[i] = &blockTask{b: b, fg: fg, gate: noGate{}}
	}

	// Parent cancellation goes through the graceful stop path below rather
	// than yanking the tasks mid-work.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &FlowgraphHandle{
		fg:     fg,
		top:    newTopology(fg),
		cancel: cancel,
		grace:  time.Duration(cfg.ShutdownGrace),
		done:   make(chan struct{}),
		log:    r.log,
	}

	sched := newScheduler(cfg.Scheduler, cfg.Workers, r.log)
	go func() {
		defer close(h.done)
		defer cancel()
		if err := sched.execute(runCtx, tasks); err != nil {
			r.log.Errorw("scheduler failed", "error", err)
		}
		if errs := fg.BlockErrors(); len(errs) > 0 {
			h.err = &RuntimeError{Errors: errs}
		}
		r.log.Infow("flowgraph finished", "block_errors", len(fg.BlockErrors()))
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = h.Stop(context.WithoutCancel(ctx))
		case <-h.done:
		}
	}()

	return h, nil
}

// FlowgraphHandle controls a running flowgraph.
type FlowgraphHandle struct {
	fg     *Flowgraph
	top    *Topology
	cancel context.CancelFunc
	grace  time.Duration
	done   chan struct{}
	err    error
	log    *zap.SugaredLogger
}

// Wait blocks until every task is Done or abandoned and returns the run
// result.
func (h *FlowgraphHandle) Wait() error {
	<-h.done
	return h.err
}

// Done returns a channel closed when the run completes.
func (h *FlowgraphHandle) Done() <-chan struct{} {
	return h.done
}

// Stop broadcasts Terminate to every block and waits for completion within
// the grace window, after which remaining tasks are abandoned.
func (h *FlowgraphHandle) Stop(ctx context.Context) error {
	if err := h.top.Broadcast(ctx, Terminate{}); err != nil {
		h.log.Warnw("terminate broadcast incomplete", "error", err)
	}

	var errStillRunning = errors.New("flowgraph still running")
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		select {
		case <-h.done:
			return struct{}{}, nil
		default:
			return struct{}{}, errStillRunning
		}
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(h.grace),
	)
	if err != nil {
		h.log.Warnw("grace window expired, abandoning remaining tasks")
		h.cancel()
	}
	return h.Wait()
}

// CallBlock invokes a message handler on a running block and awaits its
// reply.
func (h *FlowgraphHandle) CallBlock(ctx context.Context, id BlockId, port any, data pmt.Pmt) (pmt.Pmt, error) {
	mbox := h.top.Inbox(id)
	if mbox == nil {
		return nil, fmt.Errorf("unknown block %s", id)
	}
	reply := make(chan CallReply, 1)
	if err := mbox.Send(ctx, Call{Port: Port(port), Data: data, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.Data, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Describe requests a running block's introspection record.
func (h *FlowgraphHandle) Describe(ctx context.Context, id BlockId) (BlockDescription, error) {
	mbox := h.top.Inbox(id)
	if mbox == nil {
		return BlockDescription{}, fmt.Errorf("unknown block %s", id)
	}
	reply := make(chan BlockDescription, 1)
	if err := mbox.Send(ctx, DescribeBlock{Reply: reply}); err != nil {
		return BlockDescription{}, err
	}
	select {
	case d := <-reply:
		return d, nil
	case <-ctx.Done():
		return BlockDescription{}, ctx.Err()
	}
}
