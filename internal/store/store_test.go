package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"charthub/internal/domain"
)

func ms(y, m, d, hh, mm int) int64 {
	return time.Date(y, time.Month(m), d, hh, mm, 0, 0, time.UTC).UnixMilli()
}

func recordedCandle(ts int64, close float64) domain.Candle {
	return domain.Candle{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 10}
}

func TestParquetStoreDayPath(t *testing.T) {
	ps := NewParquetStore("/data")
	got := ps.dayPath("es", domain.TF1m, "2024-06-15")
	want := filepath.Join("/data", "recordings", "ES", "1m", "2024-06-15.parquet")
	if got != want {
		t.Errorf("dayPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreAppendAndReadRange(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	// Candles spanning a UTC day boundary land in two files.
	cs := []domain.Candle{
		recordedCandle(ms(2024, 6, 14, 23, 58), 4700),
		recordedCandle(ms(2024, 6, 14, 23, 59), 4701),
		recordedCandle(ms(2024, 6, 15, 0, 0), 4702),
		recordedCandle(ms(2024, 6, 15, 0, 1), 4703),
	}
	if err := ps.AppendClosed(ctx, "ES", domain.TF1m, cs); err != nil {
		t.Fatalf("AppendClosed: %v", err)
	}

	days, err := ps.ListDays(ctx, "ES", domain.TF1m)
	if err != nil {
		t.Fatalf("ListDays: %v", err)
	}
	if len(days) != 2 || days[0] != "2024-06-14" || days[1] != "2024-06-15" {
		t.Fatalf("ListDays = %v", days)
	}

	// Range read crosses the file boundary; end is exclusive.
	got, err := ps.ReadRange(ctx, "ES", domain.TF1m, ms(2024, 6, 14, 23, 59), ms(2024, 6, 15, 0, 1))
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadRange returned %d candles, want 2", len(got))
	}
	if got[0].Close != 4701 || got[1].Close != 4702 {
		t.Errorf("range closes = %v, %v", got[0].Close, got[1].Close)
	}
	if got[0].Source != domain.SourceHistorical {
		t.Error("recorded candles must read back as historical")
	}
}

func TestParquetStoreMergeDedup(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	ts := ms(2024, 6, 14, 10, 0)
	if err := ps.AppendClosed(ctx, "ES", domain.TF1m, []domain.Candle{recordedCandle(ts, 4700)}); err != nil {
		t.Fatal(err)
	}
	// Re-append the same timestamp with corrected data plus a new candle.
	if err := ps.AppendClosed(ctx, "ES", domain.TF1m, []domain.Candle{
		recordedCandle(ts, 4705),
		recordedCandle(ts+60000, 4710),
	}); err != nil {
		t.Fatal(err)
	}

	got, err := ps.ReadRange(ctx, "ES", domain.TF1m, ts, ts+120000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("merged recording has %d candles, want 2", len(got))
	}
	if got[0].Close != 4705 {
		t.Errorf("duplicate timestamp close = %v, want the newer 4705", got[0].Close)
	}
}

func TestParquetStoreTimeframesIsolated(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	ts := ms(2024, 6, 14, 10, 0)
	if err := ps.AppendClosed(ctx, "ES", domain.TF1m, []domain.Candle{recordedCandle(ts, 4700)}); err != nil {
		t.Fatal(err)
	}
	got, err := ps.ReadRange(ctx, "ES", domain.TF5m, ts, ts+60000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("5m read returned %d candles from the 1m recording", len(got))
	}
}

func TestSQLiteSettingsRoundTrip(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "charthub.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if snap, err := s.LoadSettings(ctx); err != nil || snap != nil {
		t.Fatalf("empty store LoadSettings = %s, %v; want nil, nil", snap, err)
	}

	first := json.RawMessage(`{"theme":"dark","timeframes":["1m","5m"]}`)
	if err := s.SaveSettings(ctx, first); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	second := json.RawMessage(`{"theme":"light","timeframes":["1m"]}`)
	if err := s.SaveSettings(ctx, second); err != nil {
		t.Fatalf("SaveSettings (overwrite): %v", err)
	}

	got, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if string(got) != string(second) {
		t.Errorf("LoadSettings = %s, want the latest snapshot", got)
	}
}

func TestSQLiteAnnotationCacheReplace(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "charthub.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	first := []CachedAnnotation{
		{ID: "client-c1/ES/all/hline/u1", Type: "hline", Geometry: json.RawMessage(`{"price":4700}`)},
		{ID: "client-c1/ES/1m/box/u2", Type: "box", Geometry: json.RawMessage(`{}`)},
	}
	if err := s.ReplaceAnnotations(ctx, "ES", first); err != nil {
		t.Fatalf("ReplaceAnnotations: %v", err)
	}
	// A second replace drops annotations absent from the new set.
	second := []CachedAnnotation{
		{ID: "client-c1/ES/all/hline/u1", Type: "hline", Geometry: json.RawMessage(`{"price":4710}`)},
	}
	if err := s.ReplaceAnnotations(ctx, "ES", second); err != nil {
		t.Fatalf("ReplaceAnnotations (second): %v", err)
	}

	got, err := s.LoadAnnotations(ctx, "ES")
	if err != nil {
		t.Fatalf("LoadAnnotations: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("cache holds %d annotations, want 1 after replace", len(got))
	}
	if got[0].ID != second[0].ID || string(got[0].Geometry) != `{"price":4710}` {
		t.Errorf("cached annotation = %+v", got[0])
	}

	// Other instruments are untouched by a replace.
	if err := s.ReplaceAnnotations(ctx, "NQ", first[:1]); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceAnnotations(ctx, "ES", nil); err != nil {
		t.Fatal(err)
	}
	nq, err := s.LoadAnnotations(ctx, "NQ")
	if err != nil {
		t.Fatal(err)
	}
	if len(nq) != 1 {
		t.Errorf("NQ cache = %d annotations, want 1", len(nq))
	}
}
