package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ SettingsStore = (*SQLiteStore)(nil)

// SQLiteStore implements SettingsStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	snapshot   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS annotations (
	id         TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	type       TEXT NOT NULL,
	geometry   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotations_instrument ON annotations (instrument);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and
// applies the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSettings replaces the single persisted settings snapshot.
func (s *SQLiteStore) SaveSettings(ctx context.Context, snapshot json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, snapshot, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		[]byte(snapshot), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettings returns the persisted snapshot, or nil when none exists.
func (s *SQLiteStore) LoadSettings(ctx context.Context) (json.RawMessage, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM settings WHERE id = 1`).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return snapshot, nil
}

// ReplaceAnnotations swaps the cached annotation set for an instrument in
// one transaction, mirroring the backend's authoritative full list.
func (s *SQLiteStore) ReplaceAnnotations(ctx context.Context, instrument string, annos []CachedAnnotation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace annotations: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE instrument = ?`, instrument); err != nil {
		return fmt.Errorf("clear annotation cache: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, a := range annos {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotations (id, instrument, type, geometry, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			a.ID, instrument, a.Type, []byte(a.Geometry), now); err != nil {
			return fmt.Errorf("cache annotation %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// LoadAnnotations returns the cached annotations for an instrument.
func (s *SQLiteStore) LoadAnnotations(ctx context.Context, instrument string) ([]CachedAnnotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, geometry FROM annotations WHERE instrument = ? ORDER BY id`, instrument)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	defer rows.Close()

	var annos []CachedAnnotation
	for rows.Next() {
		var a CachedAnnotation
		var geom []byte
		if err := rows.Scan(&a.ID, &a.Type, &geom); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		a.Geometry = geom
		annos = append(annos, a)
	}
	return annos, rows.Err()
}
