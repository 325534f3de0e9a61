package downloader

import (
	"context"
	"iter"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/batch_downloader/internal/media"
)

const chunkSize = 16

// fakeSource is an in-memory media.Source. Item bytes are written to the
// destination in chunkSize pieces with a progress report after each.
type fakeSource struct {
	mu    sync.Mutex
	items map[int64]*media.Item

	connectErr error
	resolveErr error
	// fetchErr and saveErr are consulted per attempt (1-based).
	fetchErr func(id int64, attempt int) error
	saveErr  func(id int64, attempt int) error
	// afterChunk runs after each chunk is reported.
	afterChunk func(id int64, received int64)
	saveDelay  time.Duration

	connectCalls int
	fetchCalls   map[int64]int
	saveCalls    map[int64]int
	fetchOrder   []int64
	disconnected int

	active atomic.Int64
	peak   atomic.Int64
}

func newFakeSource(items ...*media.Item) *fakeSource {
	f := &fakeSource{
		items:      make(map[int64]*media.Item),
		fetchCalls: make(map[int64]int),
		saveCalls:  make(map[int64]int),
	}

	for _, item := range items {
		f.items[item.ID] = item
	}

	return f
}

func audioItems(ids ...int64) []*media.Item {
	items := make([]*media.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, &media.Item{ID: id, Size: 64, Kind: media.KindAudio, MIME: "audio/mpeg"})
	}

	return items
}

func (f *fakeSource) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connectCalls++

	return f.connectErr
}

func (f *fakeSource) ResolveTarget(_ context.Context, identifier string) (*media.Target, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}

	return &media.Target{ID: 1, Title: identifier}, nil
}

func (f *fakeSource) FetchItem(ctx context.Context, _ *media.Target, id int64) (*media.Item, error) {
	f.mu.Lock()
	f.fetchCalls[id]++
	attempt := f.fetchCalls[id]
	f.fetchOrder = append(f.fetchOrder, id)
	item := f.items[id]
	fetchErr := f.fetchErr
	f.mu.Unlock()

	if fetchErr != nil {
		if err := fetchErr(id, attempt); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return item, nil
}

func (f *fakeSource) SaveItem(ctx context.Context, item *media.Item, destPath string, onProgress media.ProgressFunc) error {
	f.mu.Lock()
	f.saveCalls[item.ID]++
	attempt := f.saveCalls[item.ID]
	saveErr := f.saveErr
	f.mu.Unlock()

	cur := f.active.Add(1)
	defer f.active.Add(-1)

	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if f.saveDelay > 0 {
		select {
		case <-time.After(f.saveDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var failErr error
	if saveErr != nil {
		failErr = saveErr(item.ID, attempt)
	}

	var received int64

	for received < item.Size {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := min(int64(chunkSize), item.Size-received)
		if _, err := out.Write(make([]byte, n)); err != nil {
			return err
		}

		received += n
		onProgress(received, item.Size)

		if f.afterChunk != nil {
			f.afterChunk(item.ID, received)
		}

		if failErr != nil {
			return failErr
		}
	}

	return nil
}

func (f *fakeSource) IterateItems(_ context.Context, _ *media.Target, reverse bool) iter.Seq2[*media.Item, error] {
	f.mu.Lock()
	items := make([]*media.Item, 0, len(f.items))
	for _, item := range f.items {
		items = append(items, item)
	}
	f.mu.Unlock()

	slices.SortFunc(items, func(a, b *media.Item) int {
		if reverse {
			return int(a.ID - b.ID)
		}

		return int(b.ID - a.ID)
	})

	return func(yield func(*media.Item, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (f *fakeSource) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disconnected++

	return nil
}

func (f *fakeSource) saves(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.saveCalls[id]
}

func (f *fakeSource) fetches(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.fetchCalls[id]
}

func (f *fakeSource) order() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.fetchOrder)
}
