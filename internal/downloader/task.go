package downloader

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a download task.
type Status int

const (
	StatusPending Status = iota
	StatusDownloading
	StatusCompleted
	StatusFailed
	StatusSkipped
)

var statusNames = [...]string{
	StatusPending:     "PENDING",
	StatusDownloading: "DOWNLOADING",
	StatusCompleted:   "COMPLETED",
	StatusFailed:      "FAILED",
	StatusSkipped:     "SKIPPED",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}

	return "UNKNOWN"
}

// IsTerminal reports whether s is COMPLETED, FAILED or SKIPPED.
func (s Status) IsTerminal() bool {
	return s >= StatusCompleted
}

// TaskState is a point-in-time copy of a Task.
type TaskState struct {
	ID           int64
	Status       Status
	Name         string
	Path         string
	ExpectedSize int64
	ReceivedSize int64
	Error        string
	RetryCount   int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Task tracks one post id through the download state machine. Transitions
// are one-way; re-entering a terminal state is a no-op.
type Task struct {
	mu sync.Mutex
	st TaskState
}

func newTask(id int64) *Task {
	return &Task{st: TaskState{ID: id, Status: StatusPending}}
}

// ID returns the post id.
func (t *Task) ID() int64 {
	return t.st.ID
}

// State returns a copy of the task.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.st
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.st.Status
}

// Start moves a pending task to DOWNLOADING.
func (t *Task) Start(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.st.Status != StatusPending {
		return false
	}

	t.st.Status = StatusDownloading
	t.st.StartedAt = now

	return true
}

// Resolve records the remote item's name and size.
func (t *Task) Resolve(name, path string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.st.Status != StatusDownloading {
		return
	}

	t.st.Name = name
	t.st.Path = path
	t.st.ExpectedSize = size
}

// Progress updates received bytes and returns the positive delta. Received
// bytes never decrease and never exceed a known expected size.
func (t *Task) Progress(received, total int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.st.Status != StatusDownloading {
		return 0
	}

	if t.st.ExpectedSize == 0 && total > 0 {
		t.st.ExpectedSize = total
	}

	if t.st.ExpectedSize > 0 && received > t.st.ExpectedSize {
		received = t.st.ExpectedSize
	}

	if received <= t.st.ReceivedSize {
		return 0
	}

	delta := received - t.st.ReceivedSize
	t.st.ReceivedSize = received

	return delta
}

// ResetProgress clears byte progress before a new attempt.
func (t *Task) ResetProgress() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.st.Status == StatusDownloading {
		t.st.ReceivedSize = 0
	}
}

// IncRetry bumps the retry counter and returns the new value.
func (t *Task) IncRetry() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.st.RetryCount++

	return t.st.RetryCount
}

// Complete marks the task COMPLETED.
func (t *Task) Complete(now time.Time) bool {
	return t.finish(StatusCompleted, "", now)
}

// Fail marks the task FAILED with reason.
func (t *Task) Fail(reason string, now time.Time) bool {
	return t.finish(StatusFailed, reason, now)
}

// Skip marks the task SKIPPED with reason.
func (t *Task) Skip(reason string, now time.Time) bool {
	return t.finish(StatusSkipped, reason, now)
}

func (t *Task) finish(status Status, reason string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.st.Status != StatusDownloading {
		return false
	}

	t.st.Status = status
	t.st.Error = reason
	t.st.FinishedAt = now

	if status == StatusCompleted && t.st.ExpectedSize > 0 {
		t.st.ReceivedSize = t.st.ExpectedSize
	}

	return true
}

// Counts tallies tasks by outcome.
type Counts struct {
	Total        int `json:"total"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
	NotAttempted int `json:"not_attempted"`
}

// Done is the number of tasks in a terminal state.
func (c Counts) Done() int {
	return c.Completed + c.Failed + c.Skipped
}

// Registry owns the ordered task list of one run.
type Registry struct {
	tasks []*Task
	byID  map[int64]*Task
}

// NewRegistry creates one pending task per id, keeping input order.
// Duplicate ids share a single task.
func NewRegistry(ids []int64) *Registry {
	r := &Registry{byID: make(map[int64]*Task, len(ids))}

	for _, id := range ids {
		if _, ok := r.byID[id]; ok {
			continue
		}

		task := newTask(id)
		r.tasks = append(r.tasks, task)
		r.byID[id] = task
	}

	return r
}

// Tasks returns tasks in input order.
func (r *Registry) Tasks() []*Task {
	return r.tasks
}

// Get returns the task for id.
func (r *Registry) Get(id int64) (*Task, bool) {
	t, ok := r.byID[id]

	return t, ok
}

// Len returns the number of tasks.
func (r *Registry) Len() int {
	return len(r.tasks)
}

// Batches partitions tasks into contiguous groups of size.
func (r *Registry) Batches(size int) [][]*Task {
	if size < 1 {
		size = 1
	}

	batches := make([][]*Task, 0, (len(r.tasks)+size-1)/size)

	for start := 0; start < len(r.tasks); start += size {
		end := min(start+size, len(r.tasks))
		batches = append(batches, r.tasks[start:end])
	}

	return batches
}

// Counts tallies the registry. Tasks that never left PENDING or were left
// DOWNLOADING are not attempted.
func (r *Registry) Counts() Counts {
	c := Counts{Total: len(r.tasks)}

	for _, t := range r.tasks {
		switch t.Status() {
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
		default:
			c.NotAttempted++
		}
	}

	return c
}
