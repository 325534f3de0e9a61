package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/batch_downloader/internal/storage"
)

// HistoryRepository stores download outcomes in SQLite.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: dbConn}
}

// RecordOutcome upserts the outcome keyed by target and post id.
func (r *HistoryRepository) RecordOutcome(ctx context.Context, rec storage.HistoryRecord) error {
	finishedAt := rec.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (target, post_id, file_path, status, error, retries, bytes, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target, post_id) DO UPDATE SET
			file_path = excluded.file_path,
			status = excluded.status,
			error = excluded.error,
			retries = excluded.retries,
			bytes = excluded.bytes,
			finished_at = excluded.finished_at
	`, rec.Target, rec.PostID, rec.FilePath, rec.Status, rec.Error, rec.Retries, rec.Bytes,
		finishedAt.UTC().Format(time.RFC3339))

	return err
}

// GetHistory returns the outcomes recorded for target.
func (r *HistoryRepository) GetHistory(ctx context.Context, target string) ([]storage.HistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT target, post_id, file_path, status, error, retries, bytes, finished_at
		FROM downloads
		WHERE target = ?
		ORDER BY post_id`, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.HistoryRecord

	for rows.Next() {
		var (
			rec        storage.HistoryRecord
			filePath   sql.NullString
			errMsg     sql.NullString
			finishedAt sql.NullString
		)

		if err := rows.Scan(&rec.Target, &rec.PostID, &filePath, &rec.Status, &errMsg, &rec.Retries, &rec.Bytes, &finishedAt); err != nil {
			return nil, err
		}

		rec.FilePath = filePath.String
		rec.Error = errMsg.String

		if finishedAt.Valid {
			if ts, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
				rec.FinishedAt = ts
			}
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
