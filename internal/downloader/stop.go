package downloader

import (
	"context"
	"sync"
	"time"
)

// stopSignal is a one-shot cooperative stop flag.
type stopSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newStopSignal() *stopSignal {
	return &stopSignal{ch: make(chan struct{})}
}

// Stop raises the flag and reports whether this call raised it.
func (s *stopSignal) Stop() bool {
	raised := false

	s.once.Do(func() {
		close(s.ch)
		raised = true
	})

	return raised
}

// Stopped reports whether Stop was called.
func (s *stopSignal) Stopped() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done is closed once Stop is called.
func (s *stopSignal) Done() <-chan struct{} {
	return s.ch
}

// sleep waits for d and reports false if ctx ended or stop was raised first.
// A nil stop only observes ctx.
func sleep(ctx context.Context, stop *stopSignal, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil && (stop == nil || !stop.Stopped())
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	var stopped <-chan struct{}
	if stop != nil {
		stopped = stop.Done()
	}

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-stopped:
		return false
	}
}
