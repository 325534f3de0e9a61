package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/batch_downloader/internal/logctx"
)

// PartialSuffix marks a file that is still being written.
const PartialSuffix = ".part"

// PartialPath returns the in-progress path for dest.
func PartialPath(dest string) string {
	return dest + PartialSuffix
}

// RemovePartial deletes an in-progress file. A missing file is not an error.
func RemovePartial(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove partial file", "file", path, "err", err)

		return err
	}

	return nil
}

// SweepPartials removes stale in-progress files left in dir by an earlier
// interrupted run. Subdirectories are not visited.
func SweepPartials(ctx context.Context, dir string) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}

		return 0, err
	}

	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), PartialSuffix) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := RemovePartial(ctx, path); err != nil {
			return removed, err
		}

		removed++

		logger.DebugContext(ctx, "removed stale partial file", "file", path)
	}

	return removed, nil
}
