package media

import (
	"context"
	"iter"
)

// ProgressFunc receives the cumulative number of bytes written and the
// expected total (0 when unknown).
type ProgressFunc func(received, total int64)

// Source is the remote service the downloader pulls media from.
type Source interface {
	// Connect opens an authorized session. Fails with *ConnectionError.
	Connect(ctx context.Context) error
	// ResolveTarget maps a user supplied identifier to a collection handle.
	// Fails with *NotFoundError when the collection does not exist.
	ResolveTarget(ctx context.Context, identifier string) (*Target, error)
	// FetchItem returns the item with the given id, or nil when it is absent.
	FetchItem(ctx context.Context, target *Target, id int64) (*Item, error)
	// SaveItem streams the item's bytes to destPath, reporting progress.
	SaveItem(ctx context.Context, item *Item, destPath string, onProgress ProgressFunc) error
	// IterateItems lazily walks the target's items, newest first unless
	// reverse is set. The sequence is restartable only by calling again.
	IterateItems(ctx context.Context, target *Target, reverse bool) iter.Seq2[*Item, error]
	Disconnect(ctx context.Context) error
}
