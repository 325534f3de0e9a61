package downloader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_BatchesRunInOrder(t *testing.T) {
	registry := NewRegistry([]int64{1, 2, 3, 4, 5, 6, 7})

	var (
		mu      sync.Mutex
		started []int64
		batches []int
	)

	cfg := PerformanceConfig{}
	sched := newScheduler(cfg, NewGate(2), newStopSignal(), func(_ context.Context, index, _ int, batch []*Task) {
		mu.Lock()
		defer mu.Unlock()

		// every task of the previous batch is terminal before the next starts
		for _, id := range started {
			task, _ := registry.Get(id)
			assert.True(t, task.Status().IsTerminal())
		}

		batches = append(batches, len(batch))
	})

	err := sched.Run(context.Background(), registry.Batches(3), func(_ context.Context, task *Task) {
		mu.Lock()
		started = append(started, task.ID())
		mu.Unlock()

		task.Start(time.Now())
		time.Sleep(time.Millisecond)
		task.Complete(time.Now())
	})
	require.NoError(t, err)

	assert.Equal(t, []int{3, 3, 1}, batches)
	assert.Equal(t, Counts{Total: 7, Completed: 7}, registry.Counts())
}

func TestScheduler_StopLeavesTasksPending(t *testing.T) {
	registry := NewRegistry([]int64{1, 2, 3, 4, 5, 6})
	stop := newStopSignal()

	sched := newScheduler(PerformanceConfig{}, NewGate(1), stop, nil)

	err := sched.Run(context.Background(), registry.Batches(2), func(_ context.Context, task *Task) {
		task.Start(time.Now())
		task.Complete(time.Now())

		if task.ID() == 3 {
			stop.Stop()
		}
	})
	require.NoError(t, err)

	assert.Equal(t, Counts{Total: 6, Completed: 3, NotAttempted: 3}, registry.Counts())
}

func TestScheduler_PacesBetweenFilesAndBatches(t *testing.T) {
	registry := NewRegistry([]int64{1, 2, 3, 4})

	cfg := PerformanceConfig{DelayBetweenFiles: 10 * time.Millisecond, DelayBetweenBatches: 30 * time.Millisecond}
	sched := newScheduler(cfg, NewGate(1), newStopSignal(), nil)

	start := time.Now()

	err := sched.Run(context.Background(), registry.Batches(2), func(context.Context, *Task) {})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 4*10*time.Millisecond+30*time.Millisecond)
}

func TestScheduler_ContextCancelled(t *testing.T) {
	registry := NewRegistry([]int64{1, 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sched := newScheduler(PerformanceConfig{}, NewGate(1), newStopSignal(), nil)

	called := false
	err := sched.Run(ctx, registry.Batches(10), func(context.Context, *Task) { called = true })

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
