// Package store persists local client state: the settings snapshot and
// annotation cache in SQLite, and closed-candle recordings in Parquet
// files for later replay.
package store

import (
	"context"
	"encoding/json"

	"charthub/internal/domain"
)

// CachedAnnotation is one persisted annotation, stored so charts can
// render the last known set before the backend answers get_anno.
type CachedAnnotation struct {
	ID       string
	Type     string
	Geometry json.RawMessage
}

// SettingsStore persists the client settings snapshot and the annotation
// cache.
type SettingsStore interface {
	// SaveSettings replaces the persisted settings snapshot.
	SaveSettings(ctx context.Context, snapshot json.RawMessage) error

	// LoadSettings returns the persisted snapshot, or nil when none has
	// been saved.
	LoadSettings(ctx context.Context) (json.RawMessage, error)

	// ReplaceAnnotations replaces the whole annotation cache for an
	// instrument with the given set.
	ReplaceAnnotations(ctx context.Context, instrument string, annos []CachedAnnotation) error

	// LoadAnnotations returns the cached annotations for an instrument.
	LoadAnnotations(ctx context.Context, instrument string) ([]CachedAnnotation, error)
}

// RecordingStore persists closed candles for offline replay.
type RecordingStore interface {
	// AppendClosed merges closed candles into the recording for the
	// instrument and timeframe.
	AppendClosed(ctx context.Context, instrument string, timeframe domain.Timeframe, cs []domain.Candle) error

	// ReadRange returns recorded candles with start <= timestamp < end
	// (Unix millis), sorted by timestamp.
	ReadRange(ctx context.Context, instrument string, timeframe domain.Timeframe, start, end int64) ([]domain.Candle, error)

	// ListDays returns the recorded dates (YYYY-MM-DD) for an instrument
	// and timeframe, sorted ascending.
	ListDays(ctx context.Context, instrument string, timeframe domain.Timeframe) ([]string, error)
}
