package downloader

import (
	"sync"
	"time"
)

const speedSamples = 10

// RateTracker estimates transfer speed from bytes reported by concurrent
// downloads. It keeps a short ring of windowed samples for a smoothed
// current speed and a lifetime counter for the average.
type RateTracker struct {
	mu       sync.Mutex
	now      func() time.Time
	interval time.Duration

	samples [speedSamples]float64
	count   int
	next    int

	windowBytes int64
	windowStart time.Time

	totalBytes int64
	startedAt  time.Time
}

// NewRateTracker creates a tracker sampling every interval.
func NewRateTracker(interval time.Duration) *RateTracker {
	return newRateTracker(interval, time.Now)
}

func newRateTracker(interval time.Duration, now func() time.Time) *RateTracker {
	t := &RateTracker{now: now, interval: interval}
	t.Reset()

	return t
}

// AddBytes records n newly received bytes. Non-positive n is ignored.
func (t *RateTracker) AddBytes(n int64) {
	if n <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.windowBytes += n
	t.totalBytes += n
}

// SampleSpeed returns the speed in bytes per second. A window at least one
// interval long is closed into a sample and the ring mean is returned; a
// shorter window reports its own rate and stays open.
func (t *RateTracker) SampleSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.now().Sub(t.windowStart)

	if elapsed <= 0 {
		return t.mean()
	}

	rate := float64(t.windowBytes) / elapsed.Seconds()

	if elapsed < t.interval {
		return rate
	}

	t.samples[t.next] = rate
	t.next = (t.next + 1) % speedSamples

	if t.count < speedSamples {
		t.count++
	}

	t.windowBytes = 0
	t.windowStart = t.now()

	return t.mean()
}

// AverageSpeed is total bytes over total elapsed time.
func (t *RateTracker) AverageSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.now().Sub(t.startedAt)
	if elapsed <= 0 {
		return 0
	}

	return float64(t.totalBytes) / elapsed.Seconds()
}

// TotalBytes returns all bytes seen since the last reset.
func (t *RateTracker) TotalBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.totalBytes
}

// Elapsed returns the time since the last reset.
func (t *RateTracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.now().Sub(t.startedAt)
}

// Reset clears all samples and counters.
func (t *RateTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	t.samples = [speedSamples]float64{}
	t.count = 0
	t.next = 0
	t.windowBytes = 0
	t.windowStart = now
	t.totalBytes = 0
	t.startedAt = now
}

func (t *RateTracker) mean() float64 {
	if t.count == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < t.count; i++ {
		sum += t.samples[i]
	}

	return sum / float64(t.count)
}
