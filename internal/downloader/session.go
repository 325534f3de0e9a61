package downloader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/batch_downloader/internal/cleanup"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/media"
	"github.com/italolelis/batch_downloader/internal/storage"
	"github.com/italolelis/batch_downloader/internal/telemetry"
)

const dirPerm = 0o755

var (
	// ErrAlreadyRun is returned by Run on a session that already ran and
	// was not Reset.
	ErrAlreadyRun = errors.New("session already ran")
	// ErrRunning is returned by Reset while Run is in progress.
	ErrRunning = errors.New("session is running")

	errStopped = errors.New("stop requested")
)

// Observer receives human readable log lines, throttled progress snapshots
// and coarse status changes. Any callback may be nil. Callbacks may be
// invoked from worker goroutines but never concurrently with themselves.
type Observer struct {
	OnLog      func(line string)
	OnProgress func(Snapshot)
	OnStatus   func(status string)
}

// Options are adjustable before a run starts.
type Options struct {
	// MediaKinds limits downloads to these kinds. Empty selects every kind.
	MediaKinds   media.KindSet
	SkipExisting bool
	// OldestFirst, MaxItems and SkipItems shape the id list built by Scan.
	OldestFirst bool
	MaxItems    int
	SkipItems   int
	// PerTargetDir stores files under a directory named after the target.
	PerTargetDir bool
}

// Option configures optional session collaborators.
type Option func(*Session)

// WithHistory records every terminal task outcome in repo.
func WithHistory(repo storage.HistoryRepository) Option {
	return func(s *Session) { s.history = repo }
}

// WithTelemetry instruments the session.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Session) { s.telemetry = tel }
}

// Session downloads the media behind a list of post ids from one target.
type Session struct {
	source    media.Source
	targetID  string
	outputDir string
	cfg       PerformanceConfig
	policy    RetryPolicy
	observer  Observer
	history   storage.HistoryRepository
	telemetry *telemetry.Telemetry
	now       func() time.Time

	logMu    sync.Mutex
	statusMu sync.Mutex

	mu        sync.Mutex
	opts      Options
	ran       bool
	running   bool
	connected bool
	target    *media.Target
	stop      *stopSignal
	registry  *Registry
	rate      *RateTracker
	agg       *Aggregator
}

// NewSession creates a session reading from source. target identifies the
// remote collection and is resolved on the first Run or Scan.
func NewSession(source media.Source, target, outputDir string, cfg PerformanceConfig, observer Observer, opts ...Option) *Session {
	cfg = cfg.Normalize()

	s := &Session{
		source:    source,
		targetID:  target,
		outputDir: outputDir,
		cfg:       cfg,
		policy:    NewRetryPolicy(cfg),
		observer:  observer,
		now:       time.Now,
		stop:      newStopSignal(),
		registry:  NewRegistry(nil),
		rate:      NewRateTracker(cfg.SpeedSampleInterval),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SetOptions replaces the pre-run options.
func (s *Session) SetOptions(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opts = opts
}

// Options returns the current options.
func (s *Session) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.opts
}

// Stop asks the run to wind down. No new task or batch starts; running
// transfers abort at their next progress report. Safe to call many times
// from any goroutine.
func (s *Session) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()

	if stop.Stop() {
		s.logLine(context.Background(), slog.LevelInfo, "stop requested")
		s.status("Stopping...")
	}
}

// Stopped reports whether Stop was called since the last Reset.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stop.Stopped()
}

// Reset prepares a finished session for another Run.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRunning
	}

	s.ran = false
	s.stop = newStopSignal()
	s.registry = NewRegistry(nil)
	s.rate.Reset()
	s.agg = nil

	return nil
}

// Progress returns the latest progress snapshot.
func (s *Session) Progress() Snapshot {
	s.mu.Lock()
	agg := s.agg
	s.mu.Unlock()

	if agg == nil {
		return Snapshot{}
	}

	return agg.Last()
}

// Summary tallies the current or last run.
func (s *Session) Summary() Counts {
	s.mu.Lock()
	registry := s.registry
	s.mu.Unlock()

	return registry.Counts()
}

// Tasks returns a copy of every task of the current or last run.
func (s *Session) Tasks() []TaskState {
	s.mu.Lock()
	registry := s.registry
	s.mu.Unlock()

	states := make([]TaskState, 0, registry.Len())
	for _, t := range registry.Tasks() {
		states = append(states, t.State())
	}

	return states
}

// Scan lists the target and returns the ids of items matching the options,
// in download order.
func (s *Session) Scan(ctx context.Context) ([]int64, error) {
	opts := s.Options()

	s.status("Connecting...")

	target, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	s.status("Scanning...")
	s.logLine(ctx, slog.LevelInfo, fmt.Sprintf("scanning %s for %s", target.Title, kindsLabel(opts.MediaKinds)))

	var (
		ids     []int64
		skipped int
	)

	for item, err := range s.source.IterateItems(ctx, target, opts.OldestFirst) {
		if err != nil {
			return ids, fmt.Errorf("failed to list items: %w", err)
		}

		if s.Stopped() {
			break
		}

		if len(opts.MediaKinds) > 0 && !item.Matches(opts.MediaKinds) {
			continue
		}

		if skipped < opts.SkipItems {
			skipped++

			continue
		}

		ids = append(ids, item.ID)

		if opts.MaxItems > 0 && len(ids) >= opts.MaxItems {
			break
		}
	}

	s.logLine(ctx, slog.LevelInfo, fmt.Sprintf("found %d files", len(ids)))

	return ids, nil
}

// Download scans the target and downloads what it found.
func (s *Session) Download(ctx context.Context) (Counts, error) {
	ids, err := s.Scan(ctx)
	if err != nil {
		s.disconnect(ctx)

		return Counts{}, err
	}

	if len(ids) == 0 {
		s.disconnect(ctx)
		s.status("No files found")

		return Counts{}, nil
	}

	counts, err := s.Run(ctx, ids)
	if errors.Is(err, ErrAlreadyRun) {
		s.disconnect(ctx)
	}

	return counts, err
}

// Run downloads the media behind ids. Per-task failures are absorbed into
// the returned counts; only connection and target resolution failures, a
// cancelled ctx or an unusable output directory produce an error. A
// session runs once unless Reset.
func (s *Session) Run(ctx context.Context, ids []int64) (Counts, error) {
	registry, agg, err := s.begin(ids)
	if err != nil {
		return Counts{}, err
	}
	defer s.end()

	if registry.Len() == 0 {
		s.status("Done: 0/0 downloaded")

		return Counts{}, nil
	}

	ctx, _ = logctx.With(ctx, "target", s.targetID)

	s.status("Connecting...")

	target, err := s.connect(ctx)
	if err != nil {
		s.status("Connection failed")
		agg.Flush()

		return registry.Counts(), err
	}
	defer s.disconnect(ctx)

	dir, err := s.prepareDir(ctx, target)
	if err != nil {
		agg.Flush()

		return registry.Counts(), err
	}

	batches := registry.Batches(s.cfg.BatchSize)

	s.status("Downloading...")
	s.logLine(ctx, slog.LevelInfo, fmt.Sprintf("%d files to download in %d batches (%d parallel)",
		registry.Len(), len(batches), s.cfg.Concurrency()))

	scheduler := newScheduler(s.cfg, NewGate(s.cfg.Concurrency()), s.currentStop(), s.onBatch)
	runErr := scheduler.Run(ctx, batches, func(ctx context.Context, t *Task) {
		s.runTask(ctx, target, dir, t)
	})

	counts := registry.Counts()
	final := agg.Flush()

	s.logSummary(ctx, counts, final)

	if s.Stopped() || runErr != nil {
		s.status(fmt.Sprintf("Stopped: %d/%d downloaded", counts.Completed, counts.Total))
	} else {
		s.status(fmt.Sprintf("Done: %d/%d downloaded", counts.Completed, counts.Total))
	}

	return counts, runErr
}

// Close disconnects from the remote service if a Scan left it connected.
func (s *Session) Close(ctx context.Context) {
	s.disconnect(ctx)
}

func (s *Session) begin(ids []int64) (*Registry, *Aggregator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ran {
		return nil, nil, ErrAlreadyRun
	}

	s.ran = true
	s.running = true
	s.registry = NewRegistry(ids)
	s.rate.Reset()
	s.agg = NewAggregator(s.registry, s.rate, s.cfg.ProgressInterval, s.progress)

	return s.registry, s.agg, nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Session) currentStop() *stopSignal {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stop
}

func (s *Session) aggregator() *Aggregator {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.agg
}

// connect connects and resolves the target once per session, retrying the
// connection ConnectionRetries times.
func (s *Session) connect(ctx context.Context) (*media.Target, error) {
	s.mu.Lock()
	if s.connected && s.target != nil {
		target := s.target
		s.mu.Unlock()

		return target, nil
	}
	s.mu.Unlock()

	var err error

	for attempt := 1; attempt <= s.cfg.ConnectionRetries; attempt++ {
		if err = s.source.Connect(ctx); err == nil {
			break
		}

		s.logLine(ctx, slog.LevelWarn, fmt.Sprintf("connection attempt %d/%d failed: %v", attempt, s.cfg.ConnectionRetries, err))

		if attempt < s.cfg.ConnectionRetries && !sleep(ctx, s.currentStop(), s.cfg.RetryDelay) {
			break
		}
	}

	if err != nil {
		s.logLine(ctx, slog.LevelError, fmt.Sprintf("could not connect: %v", err))

		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	target, err := s.source.ResolveTarget(ctx, s.targetID)
	if err != nil {
		s.logLine(ctx, slog.LevelError, fmt.Sprintf("could not resolve %q: %v", s.targetID, err))
		_ = s.source.Disconnect(ctx)

		return nil, fmt.Errorf("failed to resolve target %q: %w", s.targetID, err)
	}

	s.mu.Lock()
	s.connected = true
	s.target = target
	s.mu.Unlock()

	s.logLine(ctx, slog.LevelInfo, fmt.Sprintf("connected to %s", target.Title))

	return target, nil
}

func (s *Session) disconnect(ctx context.Context) {
	s.mu.Lock()
	connected := s.connected
	s.connected = false
	s.target = nil
	s.mu.Unlock()

	if !connected {
		return
	}

	if err := s.source.Disconnect(context.WithoutCancel(ctx)); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to disconnect", "err", err)
	}
}

func (s *Session) prepareDir(ctx context.Context, target *media.Target) (string, error) {
	dir := s.outputDir
	if s.Options().PerTargetDir {
		dir = filepath.Join(dir, media.SafeName(target.Title))
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		s.logLine(ctx, slog.LevelError, fmt.Sprintf("cannot create %s: %v", dir, err))

		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	if n, err := cleanup.SweepPartials(ctx, dir); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to sweep partial files", "dir", dir, "err", err)
	} else if n > 0 {
		s.logLine(ctx, slog.LevelInfo, fmt.Sprintf("removed %d stale partial files", n))
	}

	return dir, nil
}

func (s *Session) onBatch(ctx context.Context, index, total int, batch []*Task) {
	s.telemetry.RecordBatch(ctx)
	s.logLine(ctx, slog.LevelInfo, fmt.Sprintf("batch %d/%d (%d files)", index, total, len(batch)))
}

func (s *Session) runTask(ctx context.Context, target *media.Target, dir string, task *Task) {
	ctx, _ = logctx.With(ctx, "post_id", task.ID())

	s.telemetry.InstrumentDownload(ctx, func(ctx context.Context) string {
		return s.execute(ctx, target, dir, task).String()
	})

	st := task.State()
	if st.Status.IsTerminal() {
		s.recordHistory(ctx, target, st)
	}
}

// execute drives one task through its attempts and returns its final status.
func (s *Session) execute(ctx context.Context, target *media.Target, dir string, task *Task) Status {
	stop := s.currentStop()
	agg := s.aggregator()

	if stop.Stopped() || !task.Start(s.now()) {
		return task.Status()
	}

	agg.SetCurrent(task)
	agg.Update()

	defer agg.Update()

	for {
		err := s.attempt(ctx, target, dir, task)
		if err == nil {
			task.Complete(s.now())

			st := task.State()
			s.logLine(ctx, slog.LevelInfo, fmt.Sprintf("downloaded %s (%s)", st.Name, humanize.Bytes(uint64(st.ReceivedSize))))

			return StatusCompleted
		}

		var skip *skipError
		if errors.As(err, &skip) {
			s.skip(ctx, task, skip.reason)

			return StatusSkipped
		}

		decision := s.policy.Decide(err, task.State().RetryCount)

		switch decision.Action {
		case ActionSkip:
			if media.Classify(err) == media.ClassCancelled {
				stop.Stop()
			}

			s.skip(ctx, task, fmt.Sprintf("%s: %v", decision.Reason, err))

			return StatusSkipped
		case ActionFail:
			task.Fail(fmt.Sprintf("%s: %v", decision.Reason, err), s.now())
			s.logLine(ctx, slog.LevelError, fmt.Sprintf("failed post %d: %s: %v", task.ID(), decision.Reason, err))

			if !s.cfg.SkipFailedFiles && stop.Stop() {
				s.logLine(ctx, slog.LevelWarn, "stopping after failure")
			}

			return StatusFailed
		}

		if decision.ConsumesRetry {
			retries := task.IncRetry()
			s.telemetry.RecordRetry(ctx, decision.Reason)
			s.logLine(ctx, slog.LevelWarn, fmt.Sprintf("retrying post %d (%d/%d) in %s: %v",
				task.ID(), retries, s.policy.MaxRetries, decision.Delay, err))
		} else {
			s.telemetry.RecordRateLimitWait(ctx, decision.Delay)
			s.logLine(ctx, slog.LevelWarn, fmt.Sprintf("rate limited on post %d, waiting %s", task.ID(), decision.Delay))
		}

		if !sleep(ctx, stop, decision.Delay) {
			s.skip(ctx, task, "cancelled")

			return StatusSkipped
		}

		task.ResetProgress()
	}
}

// attempt fetches, checks and saves one item. It never leaves a partial
// file behind.
func (s *Session) attempt(ctx context.Context, target *media.Target, dir string, task *Task) error {
	item, err := s.fetch(ctx, target, task.ID())
	if err != nil {
		return err
	}

	if item == nil {
		return &media.NotFoundError{Resource: "item", ID: strconv.FormatInt(task.ID(), 10)}
	}

	opts := s.Options()
	if len(opts.MediaKinds) > 0 && !item.Matches(opts.MediaKinds) {
		return &skipError{reason: fmt.Sprintf("%s not selected", item.Kind)}
	}

	name := media.FileName(item)
	dest := filepath.Join(dir, name)

	task.Resolve(name, dest, item.Size)

	if opts.SkipExisting && fileExists(dest) {
		return &skipError{reason: "already exists"}
	}

	size := ""
	if item.Size > 0 {
		size = " (" + humanize.Bytes(uint64(item.Size)) + ")"
	}

	s.logLine(ctx, slog.LevelInfo, fmt.Sprintf("downloading %s%s", name, size))

	stop := s.currentStop()
	agg := s.aggregator()

	saveCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	onProgress := func(received, total int64) {
		if stop.Stopped() {
			cancel(errStopped)
		}

		delta := task.Progress(received, total)
		s.rate.AddBytes(delta)
		s.telemetry.RecordBytes(ctx, delta)

		agg.SetCurrent(task)
		agg.Update()
	}

	part := cleanup.PartialPath(dest)

	if err := s.source.SaveItem(saveCtx, item, part, onProgress); err != nil {
		_ = cleanup.RemovePartial(ctx, part)

		if errors.Is(context.Cause(saveCtx), errStopped) {
			return &media.CancelledError{Err: err}
		}

		return err
	}

	if err := os.Rename(part, dest); err != nil {
		_ = cleanup.RemovePartial(ctx, part)

		return fmt.Errorf("failed to finalize %s: %w", name, err)
	}

	return nil
}

// fetch resolves item metadata within the request timeout. Running out of
// time is transient.
func (s *Session) fetch(ctx context.Context, target *media.Target, id int64) (*media.Item, error) {
	fetchCtx := ctx

	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc

		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	item, err := s.source.FetchItem(fetchCtx, target, id)
	if err != nil {
		if ctx.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return nil, &media.TransientError{Operation: "fetch_item", Err: err}
		}

		return nil, err
	}

	return item, nil
}

func (s *Session) skip(ctx context.Context, task *Task, reason string) {
	if task.Skip(reason, s.now()) {
		s.logLine(ctx, slog.LevelInfo, fmt.Sprintf("skipped post %d: %s", task.ID(), reason))
	}
}

func (s *Session) recordHistory(ctx context.Context, target *media.Target, st TaskState) {
	if s.history == nil {
		return
	}

	err := s.history.RecordOutcome(context.WithoutCancel(ctx), storage.HistoryRecord{
		Target:     target.Title,
		PostID:     st.ID,
		FilePath:   st.Path,
		Status:     st.Status.String(),
		Error:      st.Error,
		Retries:    st.RetryCount,
		Bytes:      st.ReceivedSize,
		FinishedAt: st.FinishedAt,
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record download history", "err", err)
	}
}

func (s *Session) logSummary(ctx context.Context, counts Counts, final Snapshot) {
	heading := "complete"
	if s.Stopped() {
		heading = "stopped"
	}

	s.logLine(ctx, slog.LevelInfo, fmt.Sprintf(
		"%s: %d downloaded, %d skipped, %d failed, %d not attempted in %s (avg %s/s)",
		heading, counts.Completed, counts.Skipped, counts.Failed, counts.NotAttempted,
		final.Elapsed.Round(100*time.Millisecond), humanize.Bytes(uint64(final.AverageSpeed))))
}

// logLine writes line to the structured logger and to the observer.
func (s *Session) logLine(ctx context.Context, level slog.Level, line string) {
	logctx.LoggerFromContext(ctx).Log(ctx, level, line)

	if s.observer.OnLog == nil {
		return
	}

	s.logMu.Lock()
	defer s.logMu.Unlock()

	s.observer.OnLog(line)
}

func (s *Session) status(status string) {
	if s.observer.OnStatus == nil {
		return
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	s.observer.OnStatus(status)
}

func (s *Session) progress(snap Snapshot) {
	if s.observer.OnProgress != nil {
		s.observer.OnProgress(snap)
	}
}

// skipError ends a task as SKIPPED without consulting the retry policy.
type skipError struct {
	reason string
}

func (e *skipError) Error() string {
	return e.reason
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

func kindsLabel(kinds media.KindSet) string {
	if len(kinds) == 0 {
		return "all media"
	}

	return kinds.String()
}
