package downloader

import (
	"sync"
	"time"
)

// Snapshot is an immutable view of a run's progress.
type Snapshot struct {
	Counts

	CurrentFile string
	// CurrentFileProgress and OverallProgress are percentages in [0, 100].
	CurrentFileProgress float64
	OverallProgress     float64

	// Speed is the smoothed throughput in bytes per second.
	Speed        float64
	AverageSpeed float64
	Bytes        int64
	Elapsed      time.Duration
	// ETA is zero until at least one task has finished.
	ETA time.Duration

	Final bool
}

// Aggregator folds task state into snapshots and delivers them to an
// observer at most once per interval. The final snapshot is always sent.
type Aggregator struct {
	registry *Registry
	rate     *RateTracker
	interval time.Duration
	now      func() time.Time
	observer func(Snapshot)

	mu       sync.Mutex
	current  *Task
	lastEmit time.Time
	last     Snapshot
	seq      uint64

	emitMu    sync.Mutex
	delivered uint64
}

// NewAggregator creates an aggregator over registry. observer may be nil.
func NewAggregator(registry *Registry, rate *RateTracker, interval time.Duration, observer func(Snapshot)) *Aggregator {
	return &Aggregator{
		registry: registry,
		rate:     rate,
		interval: interval,
		now:      time.Now,
		observer: observer,
	}
}

// SetCurrent marks t as the task shown as the current file.
func (a *Aggregator) SetCurrent(t *Task) {
	a.mu.Lock()
	a.current = t
	a.mu.Unlock()
}

// Update emits a snapshot if the interval has passed since the last one.
func (a *Aggregator) Update() {
	a.emit(false)
}

// Flush emits the final snapshot regardless of the interval.
func (a *Aggregator) Flush() Snapshot {
	return a.emit(true)
}

// Last returns the most recently computed snapshot.
func (a *Aggregator) Last() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.last
}

func (a *Aggregator) emit(final bool) Snapshot {
	a.mu.Lock()

	now := a.now()
	if !final && !a.lastEmit.IsZero() && now.Sub(a.lastEmit) < a.interval {
		snap := a.last
		a.mu.Unlock()

		return snap
	}

	a.lastEmit = now
	snap := a.compute(final)
	a.last = snap
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	a.deliver(snap, seq)

	return snap
}

// deliver hands snap to the observer unless a newer snapshot already went
// out, so observers never see progress move backwards.
func (a *Aggregator) deliver(snap Snapshot, seq uint64) {
	if a.observer == nil {
		return
	}

	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	if seq <= a.delivered {
		return
	}

	a.delivered = seq
	a.observer(snap)
}

// compute must be called with a.mu held.
func (a *Aggregator) compute(final bool) Snapshot {
	counts := a.registry.Counts()

	snap := Snapshot{
		Counts:       counts,
		Speed:        a.rate.SampleSpeed(),
		AverageSpeed: a.rate.AverageSpeed(),
		Bytes:        a.rate.TotalBytes(),
		Elapsed:      a.rate.Elapsed(),
		Final:        final,
	}

	if counts.Total > 0 {
		snap.OverallProgress = float64(counts.Done()) / float64(counts.Total) * 100
	}

	if a.current != nil {
		st := a.current.State()
		snap.CurrentFile = st.Name

		if st.ExpectedSize > 0 {
			snap.CurrentFileProgress = float64(st.ReceivedSize) / float64(st.ExpectedSize) * 100
		}
	}

	if done := counts.Done(); done > 0 && !final {
		remaining := counts.Total - done
		snap.ETA = time.Duration(float64(snap.Elapsed) / float64(done) * float64(remaining))
	}

	return snap
}
