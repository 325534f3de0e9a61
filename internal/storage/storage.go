package storage

import (
	"context"
	"time"
)

// HistoryRecord is the terminal outcome of one download task.
type HistoryRecord struct {
	Target     string
	PostID     int64
	FilePath   string
	Status     string
	Error      string
	Retries    int
	Bytes      int64
	FinishedAt time.Time
}

// HistoryRepository persists download outcomes across runs.
type HistoryRepository interface {
	// RecordOutcome stores rec, replacing an earlier outcome for the same
	// target and post.
	RecordOutcome(ctx context.Context, rec HistoryRecord) error
	// GetHistory returns every outcome for target ordered by post id.
	GetHistory(ctx context.Context, target string) ([]HistoryRecord, error)
}
