package downloader

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchFunc is called before each batch starts with its 1-based index.
type BatchFunc func(ctx context.Context, index, total int, batch []*Task)

// Scheduler runs batches of tasks one after another, each batch with
// bounded concurrency.
type Scheduler struct {
	gate              *Gate
	stop              *stopSignal
	delayBetweenFiles time.Duration
	delayBetweenBatch time.Duration
	onBatch           BatchFunc
}

func newScheduler(cfg PerformanceConfig, gate *Gate, stop *stopSignal, onBatch BatchFunc) *Scheduler {
	return &Scheduler{
		gate:              gate,
		stop:              stop,
		delayBetweenFiles: cfg.DelayBetweenFiles,
		delayBetweenBatch: cfg.DelayBetweenBatches,
		onBatch:           onBatch,
	}
}

// Run executes work for every task. Within a batch tasks start in order;
// the next batch starts only after every worker of the current one
// returned. Tasks not started because of a stop stay PENDING.
func (s *Scheduler) Run(ctx context.Context, batches [][]*Task, work func(ctx context.Context, t *Task)) error {
	for i, batch := range batches {
		if s.halted(ctx) {
			break
		}

		if s.onBatch != nil {
			s.onBatch(ctx, i+1, len(batches), batch)
		}

		s.runBatch(ctx, batch, work)

		if i < len(batches)-1 && !sleep(ctx, s.stop, s.delayBetweenBatch) {
			break
		}
	}

	return ctx.Err()
}

func (s *Scheduler) runBatch(ctx context.Context, batch []*Task, work func(ctx context.Context, t *Task)) {
	var g errgroup.Group

	for _, task := range batch {
		if s.halted(ctx) {
			break
		}

		if err := s.gate.Acquire(ctx); err != nil {
			break
		}

		if s.stop.Stopped() {
			s.gate.Release()

			break
		}

		g.Go(func() error {
			defer s.gate.Release()

			work(ctx, task)

			sleep(ctx, s.stop, s.delayBetweenFiles)

			return nil
		})
	}

	_ = g.Wait()
}

func (s *Scheduler) halted(ctx context.Context) bool {
	return s.stop.Stopped() || ctx.Err() != nil
}
