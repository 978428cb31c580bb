package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gsdr-platform/gsdr/blocks"
	"github.com/gsdr-platform/gsdr/pmt"
	"github.com/gsdr-platform/gsdr/runtime"
	"github.com/gsdr-platform/gsdr/runtime/circuit"
)

func newTestRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	return runtime.NewRuntime(runtime.WithLog(zaptest.NewLogger(t).Sugar()))
}

func TestBytePlusOnePipeline(t *testing.T) {
	fg := runtime.NewFlowgraph()

	src := fg.AddBlock(blocks.NewVectorSource([]byte{0, 1, 254, 255}))
	apply := fg.AddBlock(blocks.NewApply(func(x byte) byte { return x + 1 }))
	sinkBlock, sink := blocks.NewVectorSink[byte]()
	snk := fg.AddBlock(sinkBlock)

	require.NoError(t, fg.ConnectStream(src, "out", apply, "in"))
	require.NoError(t, fg.ConnectStream(apply, "out", snk, "in"))

	require.NoError(t, newTestRuntime(t).Run(context.Background(), fg))
	assert.Equal(t, []byte{1, 2, 255, 0}, sink.Items())
}

func TestApplyComposition(t *testing.T) {
	xs := make([]uint32, 1000)
	for i := range xs {
		xs[i] = uint32(i)
	}
	f := func(x uint32) uint32 { return x * 3 }
	g := func(x uint32) uint32 { return x + 7 }

	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewVectorSource(xs))
	first := fg.AddBlock(blocks.NewApply(f))
	second := fg.AddBlock(blocks.NewApply(g))
	sinkBlock, sink := blocks.NewVectorSink[uint32]()
	snk := fg.AddBlock(sinkBlock)

	require.NoError(t, fg.ConnectStream(src, "out", first, "in"))
	require.NoError(t, fg.ConnectStream(first, "out", second, "in"))
	require.NoError(t, fg.ConnectStream(second, "out", snk, "in"))

	require.NoError(t, newTestRuntime(t).Run(context.Background(), fg))

	want := make([]uint32, len(xs))
	for i, x := range xs {
		want[i] = g(f(x))
	}
	assert.Empty(t, cmp.Diff(want, sink.Items()))
}

func TestCopyRoundTrip(t *testing.T) {
	xs := []float32{0.5, -0.5, 1.25, -1.25}

	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewVectorSource(xs))
	cp := fg.AddBlock(blocks.NewCopy[float32]())
	sinkBlock, sink := blocks.NewVectorSink[float32]()
	snk := fg.AddBlock(sinkBlock)

	require.NoError(t, fg.ConnectStream(src, "out", cp, "in"))
	require.NoError(t, fg.ConnectStream(cp, "out", snk, "in"))

	require.NoError(t, newTestRuntime(t).Run(context.Background(), fg))
	assert.Equal(t, xs, sink.Items())
}

func TestZeroLengthInputTerminatesPromptly(t *testing.T) {
	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewVectorSource([]byte{}))
	sinkBlock, sink := blocks.NewVectorSink[byte]()
	snk := fg.AddBlock(sinkBlock)

	require.NoError(t, fg.ConnectStream(src, "out", snk, "in"))

	done := make(chan error, 1)
	go func() {
		done <- newTestRuntime(t).Run(context.Background(), fg)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("empty flowgraph did not terminate promptly")
	}
	assert.Empty(t, sink.Items())
}

func TestTagsTravelThroughCopy(t *testing.T) {
	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewVectorSourceWithTags(
		[]byte{10, 11, 12, 13},
		[]runtime.ItemTag{{Offset: 2, Value: pmt.U32(7)}},
	))
	cp := fg.AddBlock(blocks.NewCopy[byte]())
	sinkBlock, sink := blocks.NewVectorSink[byte]()
	snk := fg.AddBlock(sinkBlock)

	require.NoError(t, fg.ConnectStream(src, "out", cp, "in"))
	require.NoError(t, fg.ConnectStream(cp, "out", snk, "in"))

	require.NoError(t, newTestRuntime(t).Run(context.Background(), fg))

	assert.Equal(t, []byte{10, 11, 12, 13}, sink.Items())
	require.Len(t, sink.Tags(), 1)
	assert.Equal(t, 2, sink.Tags()[0].Offset)
	assert.Equal(t, pmt.U32(7), sink.Tags()[0].Value)
}

func TestFinishCascade(t *testing.T) {
	xs := make([]uint32, 1000)
	for i := range xs {
		xs[i] = uint32(i)
	}

	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewVectorSource(xs))
	prev := src
	for range 3 {
		stage := fg.AddBlock(blocks.NewCopy[uint32]())
		require.NoError(t, fg.ConnectStream(prev, "out", stage, "in"))
		prev = stage
	}
	sinkBlock, sink := blocks.NewVectorSink[uint32]()
	snk := fg.AddBlock(sinkBlock)
	require.NoError(t, fg.ConnectStream(prev, "out", snk, "in"))

	require.NoError(t, newTestRuntime(t).Run(context.Background(), fg))
	assert.Equal(t, xs, sink.Items(), "cascade must terminate without loss")
}

// slowSink consumes a single item per invocation, requesting immediate
// re-invocation while items remain.
type slowSink struct {
	In    *runtime.CircularReader[byte]
	count int
}

func (k *slowSink) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	in, _ := k.In.SliceWithTags()
	if len(in) > 0 {
		k.In.Consume(1)
		k.count++
	}
	if k.In.Finished() {
		io.Finished = true
		return nil
	}
	if len(in) > 1 {
		io.CallAgain = true
	}
	return nil
}

func TestBackPressureSlowConsumer(t *testing.T) {
	const total = 64 * 1024
	xs := make([]byte, total)
	for i := range xs {
		xs[i] = byte(i)
	}

	k := &slowSink{In: runtime.NewCircularReader[byte]()}
	sinkBlock := runtime.NewBlock("SlowSink", k, runtime.StreamInput("in", &k.In))

	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewVectorSource(xs))
	snk := fg.AddBlock(sinkBlock)
	require.NoError(t, fg.ConnectStream(src, "out", snk, "in"))

	require.NoError(t, newTestRuntime(t).Run(context.Background(), fg))
	assert.Equal(t, total, k.count)
}

func TestMessageBurstToSink(t *testing.T) {
	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewMessageBurst(pmt.String("ping"), 3))
	sinkBlock, sink := blocks.NewMessageSink()
	snk := fg.AddBlock(sinkBlock)

	require.NoError(t, fg.ConnectMessage(src, "out", snk, "in"))

	require.NoError(t, newTestRuntime(t).Run(context.Background(), fg))
	require.Len(t, sink.Messages(), 3)
	for _, m := range sink.Messages() {
		assert.True(t, pmt.Equal(pmt.String("ping"), m))
	}
}

func TestMessageRoundTrip(t *testing.T) {
	fg := runtime.NewFlowgraph()
	echoBlock := blocks.NewMessageApply(func(p pmt.Pmt) (pmt.Pmt, error) {
		if pmt.Equal(p, pmt.String("ping")) {
			return pmt.String("pong"), nil
		}
		return nil, fmt.Errorf("unexpected payload %v", p)
	})
	echo := fg.AddBlock(echoBlock)
	sinkBlock, sink := blocks.NewMessageSink()
	snk := fg.AddBlock(sinkBlock)
	require.NoError(t, fg.ConnectMessage(echo, "out", snk, "in"))

	ctx := context.Background()
	h, err := newTestRuntime(t).Start(ctx, fg)
	require.NoError(t, err)

	// The handler acks the call and forwards the transformed payload.
	reply, err := h.CallBlock(ctx, echo, "in", pmt.String("ping"))
	require.NoError(t, err)
	assert.True(t, pmt.Equal(pmt.OK, reply))

	require.NoError(t, h.Stop(ctx))
	require.Len(t, sink.Messages(), 1)
	assert.True(t, pmt.Equal(pmt.String("pong"), sink.Messages()[0]))
}

func TestCallUnknownHandler(t *testing.T) {
	fg := runtime.NewFlowgraph()
	echo := fg.AddBlock(blocks.NewMessageApply(func(p pmt.Pmt) (pmt.Pmt, error) { return p, nil }))

	ctx := context.Background()
	h, err := newTestRuntime(t).Start(ctx, fg)
	require.NoError(t, err)
	defer h.Stop(ctx)

	_, err = h.CallBlock(ctx, echo, "nope", pmt.Null)
	assert.ErrorIs(t, err, runtime.ErrInvalidMessagePort)
}

func TestHandlerErrorDoesNotAbort(t *testing.T) {
	fg := runtime.NewFlowgraph()
	boom := fg.AddBlock(blocks.NewMessageApply(func(pmt.Pmt) (pmt.Pmt, error) {
		return nil, errors.New("boom")
	}))

	ctx := context.Background()
	h, err := newTestRuntime(t).Start(ctx, fg)
	require.NoError(t, err)

	_, err = h.CallBlock(ctx, boom, "in", pmt.Null)
	assert.ErrorContains(t, err, "boom")

	// The block survived the handler error and still answers.
	_, err = h.Describe(ctx, boom)
	assert.NoError(t, err)

	require.NoError(t, h.Stop(ctx))
}

func TestDescribeRunningBlock(t *testing.T) {
	fg := runtime.NewFlowgraph()
	echo := fg.AddBlock(blocks.NewMessageApply(func(p pmt.Pmt) (pmt.Pmt, error) { return p, nil }))

	ctx := context.Background()
	h, err := newTestRuntime(t).Start(ctx, fg)
	require.NoError(t, err)

	d, err := h.Describe(ctx, echo)
	require.NoError(t, err)
	assert.Equal(t, "MessageApply", d.Name)
	assert.Equal(t, []string{"out"}, d.MessageOutputs)
	assert.Equal(t, []string{"in"}, d.MessageHandlers)

	require.NoError(t, h.Stop(ctx))
}

// errKernel fails its first work invocation.
type errKernel struct {
	In *runtime.CircularReader[byte]
}

func (k *errKernel) Work(context.Context, *runtime.WorkIo, *runtime.MessageOutputs, *runtime.BlockMeta) error {
	return errors.New("work exploded")
}

func TestWorkErrorSurfacesAndPropagatesFinish(t *testing.T) {
	k := &errKernel{In: runtime.NewCircularReader[byte]()}
	bad := runtime.NewBlock("Bad", k, runtime.StreamInput("in", &k.In))

	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewVectorSource(make([]byte, 1024)))
	badId := fg.AddBlock(bad)
	require.NoError(t, fg.ConnectStream(src, "out", badId, "in"))

	err := newTestRuntime(t).Run(context.Background(), fg)
	require.Error(t, err)
	var rerr *runtime.RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Contains(t, rerr.Errors, badId)
	assert.ErrorContains(t, rerr.Errors[badId], "work exploded")
	assert.NotContains(t, rerr.Errors, src, "the source finishes cleanly once its peer is gone")
}

// panicKernel panics mid-work.
type panicKernel struct {
	Out *runtime.CircularWriter[byte]
}

func (k *panicKernel) Work(context.Context, *runtime.WorkIo, *runtime.MessageOutputs, *runtime.BlockMeta) error {
	panic("kaboom")
}

func TestPanicBecomesRuntimeError(t *testing.T) {
	k := &panicKernel{Out: runtime.NewCircularWriter[byte]()}
	bad := runtime.NewBlock("Panicky", k, runtime.StreamOutput("out", &k.Out))

	fg := runtime.NewFlowgraph()
	badId := fg.AddBlock(bad)
	sinkBlock, _ := blocks.NewVectorSink[byte]()
	snk := fg.AddBlock(sinkBlock)
	require.NoError(t, fg.ConnectStream(badId, "out", snk, "in"))

	err := newTestRuntime(t).Run(context.Background(), fg)
	var rerr *runtime.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorContains(t, rerr.Errors[badId], "panic")
}

// initTracker records init/deinit ordering.
type initTracker struct {
	Out    *runtime.CircularWriter[byte]
	events *[]string
	name   string
	fail   bool
}

func (k *initTracker) Init(*runtime.BlockMeta) error {
	*k.events = append(*k.events, "init:"+k.name)
	if k.fail {
		return errors.New("init refused")
	}
	return nil
}

func (k *initTracker) Deinit(*runtime.BlockMeta) error {
	*k.events = append(*k.events, "deinit:"+k.name)
	return nil
}

func (k *initTracker) Work(_ context.Context, io *runtime.WorkIo, _ *runtime.MessageOutputs, _ *runtime.BlockMeta) error {
	io.Finished = true
	return nil
}

func TestInitErrorAbortsAndDeinitializes(t *testing.T) {
	var events []string
	good := &initTracker{Out: runtime.NewCircularWriter[byte](), events: &events, name: "good"}
	bad := &initTracker{Out: runtime.NewCircularWriter[byte](), events: &events, name: "bad", fail: true}

	fg := runtime.NewFlowgraph()
	goodId := fg.AddBlock(runtime.NewBlock("Good", good, runtime.StreamOutput("out", &good.Out)))
	badId := fg.AddBlock(runtime.NewBlock("Bad", bad, runtime.StreamOutput("out", &bad.Out)))

	s1, _ := blocks.NewVectorSink[byte]()
	s2, _ := blocks.NewVectorSink[byte]()
	snk1 := fg.AddBlock(s1)
	snk2 := fg.AddBlock(s2)
	require.NoError(t, fg.ConnectStream(goodId, "out", snk1, "in"))
	require.NoError(t, fg.ConnectStream(badId, "out", snk2, "in"))

	err := newTestRuntime(t).Run(context.Background(), fg)
	var ierr *runtime.InitError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, badId, ierr.Block)
	assert.Equal(t, []string{"init:good", "init:bad", "deinit:good"}, events)
}

func TestCircuitLane(t *testing.T) {
	const (
		total       = 10_000
		nBuffers    = 4
		bufferItems = 1_000
	)

	fg := runtime.NewFlowgraph()
	srcBlock, src := blocks.NewInplaceSource(total, func(i int) int32 { return int32(i) })
	applyBlock := blocks.NewInplaceApply(func(items []int32) {
		for i := range items {
			items[i]++
		}
	})
	sinkBlock, sink := blocks.NewInplaceSink[int32]()

	srcId := fg.AddBlock(srcBlock)
	applyId := fg.AddBlock(applyBlock)
	snkId := fg.AddBlock(sinkBlock)
	require.NoError(t, fg.ConnectStream(srcId, "out", applyId, "in"))
	require.NoError(t, fg.ConnectStream(applyId, "out", snkId, "in"))

	src.Out.InjectBuffersWithItems(nBuffers, bufferItems)
	src.Out.CloseCircuit(sink.In)

	require.NoError(t, newTestRuntime(t).Run(context.Background(), fg))

	require.Len(t, sink.Items(), total)
	for i, v := range sink.Items() {
		require.EqualValues(t, i+1, v, "item %d", i)
	}
	assert.Equal(t, nBuffers, src.Out.EmptyBuffers(),
		"all buffers return to the origin empties queue")
}

func TestStopTerminatesInfiniteFlowgraph(t *testing.T) {
	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewNullSource[uint32]())
	sinkBlock, sink := blocks.NewNullSink[uint32]()
	snk := fg.AddBlock(sinkBlock)
	require.NoError(t, fg.ConnectStream(src, "out", snk, "in"))

	ctx := context.Background()
	h, err := newTestRuntime(t).Start(ctx, fg)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.Stop(ctx))
	assert.Positive(t, sink.Count())
}

func TestContextCancelStopsRun(t *testing.T) {
	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewNullSource[uint32]())
	sinkBlock, _ := blocks.NewNullSink[uint32]()
	snk := fg.AddBlock(sinkBlock)
	require.NoError(t, fg.ConnectStream(src, "out", snk, "in"))

	ctx, cancel := context.WithCancel(context.Background())
	h, err := newTestRuntime(t).Start(ctx, fg)
	require.NoError(t, err)

	cancel()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not stop the flowgraph")
	}
}

func TestSchedulerVariants(t *testing.T) {
	for _, kind := range []runtime.SchedulerKind{runtime.SchedulerFlow, runtime.SchedulerPinned} {
		t.Run(string(kind), func(t *testing.T) {
			cfg := runtime.DefaultConfig()
			cfg.Scheduler = kind
			cfg.Workers = 2

			fg := runtime.NewFlowgraph()
			src := fg.AddBlock(blocks.NewVectorSource([]byte{0, 1, 254, 255}))
			apply := fg.AddBlock(blocks.NewApply(func(x byte) byte { return x + 1 }))
			sinkBlock, sink := blocks.NewVectorSink[byte]()
			snk := fg.AddBlock(sinkBlock)
			require.NoError(t, fg.ConnectStream(src, "out", apply, "in"))
			require.NoError(t, fg.ConnectStream(apply, "out", snk, "in"))

			rt := runtime.NewRuntime(
				runtime.WithConfig(cfg),
				runtime.WithLog(zaptest.NewLogger(t).Sugar()),
			)
			require.NoError(t, rt.Run(context.Background(), fg))
			assert.Equal(t, []byte{1, 2, 255, 0}, sink.Items())
		})
	}
}

func TestConnectStreamWithBuffer(t *testing.T) {
	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewVectorSource([]byte{1, 2, 3}))
	sinkBlock, sink := blocks.NewVectorSink[byte]()
	snk := fg.AddBlock(sinkBlock)

	// A caller-provided CPU writer replaces the declared half.
	w := runtime.NewCircularWriter[byte]()
	w.SetMinBufferSizeInItems(4096)
	require.NoError(t, fg.ConnectStreamWithBuffer(src, "out", snk, "in", w))

	require.NoError(t, newTestRuntime(t).Run(context.Background(), fg))
	assert.Equal(t, []byte{1, 2, 3}, sink.Items())
}

func TestConnectStreamWithBufferTypeMismatch(t *testing.T) {
	fg := runtime.NewFlowgraph()
	src := fg.AddBlock(blocks.NewVectorSource([]byte{1}))
	sinkBlock, _ := blocks.NewVectorSink[byte]()
	snk := fg.AddBlock(sinkBlock)

	// A circuit writer cannot stand in for a declared CPU half.
	err := fg.ConnectStreamWithBuffer(src, "out", snk, "in", circuit.NewWriter[byte]())
	require.Error(t, err)
	var verr *runtime.ValidationError
	assert.ErrorAs(t, err, &verr)
}
