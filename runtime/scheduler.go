package runtime

import (
	"context"
	goruntime "runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// scheduler drives a set of block tasks to completion. Block-level errors are
// recorded in the flowgraph error slot by the tasks themselves; execute only
// fails on scheduler-level breakage.
type scheduler interface {
	execute(ctx context.Context, tasks []*blockTask) error
}

func newScheduler(kind SchedulerKind, workers int, log *zap.SugaredLogger) scheduler {
	if workers <= 0 {
		workers = goruntime.NumCPU()
	}
	switch kind {
	case SchedulerPinned:
		return &pinnedScheduler{workers: workers, log: log}
	default:
		return &flowScheduler{workers: workers}
	}
}

// flowScheduler runs one unpinned goroutine per block. Work invocations are
// bounded by a weighted semaphore sized to the worker count, so workers: 1
// yields single-threaded dispatch while parked blocks hold no slot.
type flowScheduler struct {
	workers int
}

type semGate struct {
	sem *semaphore.Weighted
}

func (g *semGate) enter(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *semGate) leave() {
	g.sem.Release(1)
}

func (s *flowScheduler) execute(ctx context.Context, tasks []*blockTask) error {
	gate := &semGate{sem: semaphore.NewWeighted(int64(s.workers))}
	wg := new(errgroup.Group)
	for _, task := range tasks {
		task.gate = gate
		wg.Go(func() error {
			// Errors land in the flowgraph error slot; one failing block
			// must not tear down its siblings.
			_ = task.run(ctx)
			return nil
		})
	}
	return wg.Wait()
}

// pinnedScheduler locks each block task to an OS thread and pins it to one
// CPU of a worker-count-sized set, round-robin, for the task's lifetime.
type pinnedScheduler struct {
	workers int
	log     *zap.SugaredLogger
}

func (s *pinnedScheduler) execute(ctx context.Context, tasks []*blockTask) error {
	cpus := min(s.workers, goruntime.NumCPU())
	wg := new(errgroup.Group)
	for i, task := range tasks {
		cpu := i % cpus
		task.gate = noGate{}
		wg.Go(func() error {
			goruntime.LockOSThread()
			defer goruntime.UnlockOSThread()
			if err := pinToCPU(cpu); err != nil {
				s.log.Warnw("failed to pin worker thread", "cpu", cpu, "error", err)
			}
			_ = task.run(ctx)
			return nil
		})
	}
	return wg.Wait()
}
