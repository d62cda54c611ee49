package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"charthub/internal/domain"
)

// Compile-time interface check.
var _ RecordingStore = (*ParquetStore)(nil)

// ParquetStore implements RecordingStore using Parquet files on disk, one
// file per (instrument, timeframe, UTC date):
//
//	<DataDir>/recordings/<INSTRUMENT>/<timeframe>/<YYYY-MM-DD>.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// CandleRecord is the Parquet schema for recorded candles.
type CandleRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// AppendClosed merges closed candles into the day files they belong to,
// deduplicating by timestamp with incoming data winning.
func (s *ParquetStore) AppendClosed(_ context.Context, instrument string, tf domain.Timeframe, cs []domain.Candle) error {
	if len(cs) == 0 {
		return nil
	}

	groups := make(map[string][]CandleRecord)
	for _, c := range cs {
		date := time.UnixMilli(c.Timestamp).UTC().Format("2006-01-02")
		groups[date] = append(groups[date], CandleRecord{
			Timestamp: c.Timestamp,
			Open:      c.Open, High: c.High, Low: c.Low, Close: c.Close,
			Volume: c.Volume,
		})
	}

	for date, records := range groups {
		path := s.dayPath(instrument, tf, date)
		existing, _ := readParquetFile[CandleRecord](path)
		merged := mergeCandleRecords(existing, records)
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing recording %s/%s/%s: %w", instrument, tf, date, err)
		}
	}
	return nil
}

// ReadRange returns recorded candles with start <= timestamp < end.
func (s *ParquetStore) ReadRange(_ context.Context, instrument string, tf domain.Timeframe, start, end int64) ([]domain.Candle, error) {
	if end <= start {
		return nil, nil
	}

	var out []domain.Candle
	first := time.UnixMilli(start).UTC().Truncate(24 * time.Hour)
	last := time.UnixMilli(end - 1).UTC().Truncate(24 * time.Hour)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		path := s.dayPath(instrument, tf, d.Format("2006-01-02"))
		records, err := readParquetFile[CandleRecord](path)
		if err != nil {
			// Missing day file: nothing recorded for that date.
			continue
		}
		for _, r := range records {
			if r.Timestamp < start || r.Timestamp >= end {
				continue
			}
			out = append(out, domain.Candle{
				Timestamp: r.Timestamp,
				Open:      r.Open, High: r.High, Low: r.Low, Close: r.Close,
				Volume: r.Volume,
				Source: domain.SourceHistorical,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// ListDays returns the recorded dates for an instrument and timeframe.
func (s *ParquetStore) ListDays(_ context.Context, instrument string, tf domain.Timeframe) ([]string, error) {
	dir := filepath.Join(s.DataDir, "recordings", strings.ToUpper(instrument), string(tf))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var days []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".parquet"); ok && !e.IsDir() {
			days = append(days, name)
		}
	}
	sort.Strings(days)
	return days, nil
}

func (s *ParquetStore) dayPath(instrument string, tf domain.Timeframe, date string) string {
	return filepath.Join(s.DataDir, "recordings", strings.ToUpper(instrument), string(tf), date+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeCandleRecords deduplicates by timestamp, preferring incoming
// records, and returns the result sorted.
func mergeCandleRecords(existing, incoming []CandleRecord) []CandleRecord {
	seen := make(map[int64]CandleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
