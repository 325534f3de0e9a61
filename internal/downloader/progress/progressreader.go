package progress

import (
	"context"
	"io"
)

// Reader wraps an io.Reader, reports cumulative bytes through a callback
// and stops with the context's error once ctx is done.
type Reader struct {
	ctx            context.Context
	reader         io.Reader
	total          int64
	onProgress     func(received, total int64)
	totalRead      int64
	sinceReport    int64
	reportInterval int64
}

// NewReader reports at least every interval bytes and once at EOF.
// A non-positive interval reports on every read.
func NewReader(ctx context.Context, r io.Reader, total, interval int64, cb func(received, total int64)) *Reader {
	return &Reader{
		ctx:            ctx,
		reader:         r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

// Read implements io.Reader.
func (pr *Reader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.sinceReport += int64(n)

		if pr.sinceReport >= pr.reportInterval {
			pr.report()
		}
	}

	if err == io.EOF && pr.sinceReport > 0 {
		pr.report()
	}

	return n, err
}

// Received returns the bytes read so far.
func (pr *Reader) Received() int64 {
	return pr.totalRead
}

func (pr *Reader) report() {
	pr.sinceReport = 0

	if pr.onProgress != nil {
		pr.onProgress(pr.totalRead, pr.total)
	}
}
