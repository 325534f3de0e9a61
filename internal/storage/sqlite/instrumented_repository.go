package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/batch_downloader/internal/storage"
	"github.com/italolelis/batch_downloader/internal/telemetry"
)

// InstrumentedHistoryRepository wraps HistoryRepository with telemetry.
type InstrumentedHistoryRepository struct {
	repo      *HistoryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHistoryRepository creates a new instrumented history repository.
func NewInstrumentedHistoryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedHistoryRepository {
	return &InstrumentedHistoryRepository{
		repo:      NewHistoryRepository(dbConn),
		telemetry: tel,
	}
}

// RecordOutcome records an outcome with telemetry.
func (r *InstrumentedHistoryRepository) RecordOutcome(ctx context.Context, rec storage.HistoryRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_outcome", func(ctx context.Context) error {
		return r.repo.RecordOutcome(ctx, rec)
	})
}

// GetHistory retrieves history with telemetry.
func (r *InstrumentedHistoryRepository) GetHistory(ctx context.Context, target string) ([]storage.HistoryRecord, error) {
	var result []storage.HistoryRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_history", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetHistory(ctx, target)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
