package media

import (
	"context"
	"iter"

	"github.com/italolelis/batch_downloader/internal/telemetry"
)

// InstrumentedSource wraps a Source with telemetry.
type InstrumentedSource struct {
	source     Source
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedSource creates a new instrumented source.
func NewInstrumentedSource(source Source, tel *telemetry.Telemetry, clientType string) *InstrumentedSource {
	return &InstrumentedSource{
		source:     source,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Connect connects to the remote service with telemetry.
func (s *InstrumentedSource) Connect(ctx context.Context) error {
	return s.telemetry.InstrumentClientOperation(ctx, s.clientType, "connect", func(ctx context.Context) error {
		return s.source.Connect(ctx)
	})
}

// ResolveTarget resolves a target with telemetry.
func (s *InstrumentedSource) ResolveTarget(ctx context.Context, identifier string) (*Target, error) {
	var result *Target

	err := s.telemetry.InstrumentClientOperation(ctx, s.clientType, "resolve_target", func(ctx context.Context) error {
		var err error
		result, err = s.source.ResolveTarget(ctx, identifier)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// FetchItem fetches item metadata with telemetry.
func (s *InstrumentedSource) FetchItem(ctx context.Context, target *Target, id int64) (*Item, error) {
	var result *Item

	err := s.telemetry.InstrumentClientOperation(ctx, s.clientType, "fetch_item", func(ctx context.Context) error {
		var err error
		result, err = s.source.FetchItem(ctx, target, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SaveItem saves an item with telemetry.
func (s *InstrumentedSource) SaveItem(ctx context.Context, item *Item, destPath string, onProgress ProgressFunc) error {
	return s.telemetry.InstrumentClientOperation(ctx, s.clientType, "save_item", func(ctx context.Context) error {
		return s.source.SaveItem(ctx, item, destPath, onProgress)
	})
}

// IterateItems is passed through untouched; a lazy sequence has no single
// operation boundary to instrument.
func (s *InstrumentedSource) IterateItems(ctx context.Context, target *Target, reverse bool) iter.Seq2[*Item, error] {
	return s.source.IterateItems(ctx, target, reverse)
}

// Disconnect disconnects with telemetry.
func (s *InstrumentedSource) Disconnect(ctx context.Context) error {
	return s.telemetry.InstrumentClientOperation(ctx, s.clientType, "disconnect", func(ctx context.Context) error {
		return s.source.Disconnect(ctx)
	})
}
