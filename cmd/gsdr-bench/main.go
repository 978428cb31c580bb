// Command gsdr-bench measures runtime throughput on synthetic flowgraphs:
// a stream pipeline over the CPU ring substrate and a circuit lane moving
// owned buffers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"

	"github.com/gsdr-platform/gsdr/blocks"
	"github.com/gsdr-platform/gsdr/common/go/logging"
	"github.com/gsdr-platform/gsdr/common/go/xcmd"
	"github.com/gsdr-platform/gsdr/runtime"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the runtime configuration file.
	ConfigPath string
	// Samples is the number of items pushed through the pipeline.
	Samples uint64
	// Stages is the number of pass-through stages between source and sink.
	Stages int
	// Buffers and BufferItems shape the circuit lane.
	Buffers     int
	BufferItems int
}

var rootCmd = &cobra.Command{
	Use:   "gsdr-bench",
	Short: "GSDR runtime throughput benchmarks",
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Benchmark a NullSource → Copy… → NullSink pipeline",
	Run: func(_ *cobra.Command, _ []string) {
		if err := runBench(cmd, runStream); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

var circuitCmd = &cobra.Command{
	Use:   "circuit",
	Short: "Benchmark an in-place circuit lane",
	Run: func(_ *cobra.Command, _ []string) {
		if err := runBench(cmd, runCircuit); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the runtime configuration file")
	rootCmd.PersistentFlags().Uint64VarP(&cmd.Samples, "samples", "n", 10_000_000, "Number of items to push through")
	streamCmd.Flags().IntVar(&cmd.Stages, "stages", 4, "Pass-through stages between source and sink")
	circuitCmd.Flags().IntVar(&cmd.Buffers, "buffers", 4, "Buffers injected into the circuit")
	circuitCmd.Flags().IntVar(&cmd.BufferItems, "buffer-items", 250_000, "Items per circuit buffer")
	rootCmd.AddCommand(streamCmd, circuitCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func runBench(cmd Cmd, bench func(ctx context.Context, rt *runtime.Runtime, cmd Cmd) (uint64, error)) error {
	cfg := runtime.DefaultConfig()
	if cmd.ConfigPath != "" {
		var err error
		if cfg, err = runtime.LoadConfig(cmd.ConfigPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	rt := runtime.NewRuntime(
		runtime.WithConfig(cfg),
		runtime.WithLog(log),
	)

	ctx, stop := xcmd.Context(context.Background())
	defer stop()

	started := time.Now()
	items, err := bench(ctx, rt, cmd)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	elapsed := time.Since(started)

	rate := float64(items) / elapsed.Seconds()
	log.Infow("benchmark finished",
		"items", items,
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"rate", fmt.Sprintf("%.1f Mitem/s", rate/1e6),
		"bandwidth", datasize.ByteSize(rate*4).HR()+"/s",
	)
	return nil
}

func runStream(ctx context.Context, rt *runtime.Runtime, cmd Cmd) (uint64, error) {
	fg := runtime.NewFlowgraph()

	src := fg.AddBlock(blocks.NewNullSource[uint32]())
	head := fg.AddBlock(blocks.NewHead[uint32](cmd.Samples))
	sinkBlock, sink := blocks.NewNullSink[uint32]()
	snk := fg.AddBlock(sinkBlock)

	if err := fg.ConnectStream(src, "out", head, "in"); err != nil {
		return 0, err
	}
	prev := head
	for range cmd.Stages {
		stage := fg.AddBlock(blocks.NewCopy[uint32]())
		if err := fg.ConnectStream(prev, "out", stage, "in"); err != nil {
			return 0, err
		}
		prev = stage
	}
	if err := fg.ConnectStream(prev, "out", snk, "in"); err != nil {
		return 0, err
	}

	if err := rt.Run(ctx, fg); err != nil {
		return 0, err
	}
	return sink.Count(), nil
}

func runCircuit(ctx context.Context, rt *runtime.Runtime, cmd Cmd) (uint64, error) {
	fg := runtime.NewFlowgraph()

	total := int(cmd.Samples)
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

	if err := fg.ConnectStream(srcId, "out", applyId, "in"); err != nil {
		return 0, err
	}
	if err := fg.ConnectStream(applyId, "out", snkId, "in"); err != nil {
		return 0, err
	}

	src.Out.InjectBuffersWithItems(cmd.Buffers, cmd.BufferItems)
	src.Out.CloseCircuit(sink.In)

	if err := rt.Run(ctx, fg); err != nil {
		return 0, err
	}
	return uint64(len(sink.Items())), nil
}
