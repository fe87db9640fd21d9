// Package persistence stores power-tracker, device-plan, and price-series
// snapshots in Postgres, grounded on scheduler/mpc_persistence.go's
// transaction + prepared-upsert + delete-then-insert pattern.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps a *sql.DB with the snapshot tables this service needs.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres via lib/pq and ensures the snapshot tables
// exist.
func Open(ctx context.Context, connString string) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("persistence: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: ping: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-open *sql.DB (used by tests with a fake
// driver, or a caller managing its own connection pool).
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS power_tracker_snapshots (
			zone TEXT PRIMARY KEY,
			captured_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS device_plan_snapshots (
			captured_at TIMESTAMPTZ PRIMARY KEY,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_series_history (
			starts_at TIMESTAMPTZ PRIMARY KEY,
			total DOUBLE PRECISION NOT NULL,
			currency TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("persistence: ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePowerTrackerSnapshot upserts the tracker's serialized state for a
// zone.
func (s *Store) SavePowerTrackerSnapshot(ctx context.Context, zone string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("persistence: marshal power tracker snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO power_tracker_snapshots (zone, captured_at, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (zone) DO UPDATE SET
			captured_at = EXCLUDED.captured_at,
			payload = EXCLUDED.payload
	`, zone, time.Now().UTC(), data)
	if err != nil {
		return fmt.Errorf("persistence: save power tracker snapshot: %w", err)
	}
	return nil
}

// LoadPowerTrackerSnapshot returns the most recently saved snapshot for a
// zone, or ok=false if none exists.
func (s *Store) LoadPowerTrackerSnapshot(ctx context.Context, zone string, out any) (bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM power_tracker_snapshots WHERE zone = $1`, zone,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("persistence: load power tracker snapshot: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("persistence: unmarshal power tracker snapshot: %w", err)
	}
	return true, nil
}

// SaveDevicePlanSnapshot records one device plan with its own timestamp;
// rows accumulate until PruneDevicePlanSnapshots deletes them.
func (s *Store) SaveDevicePlanSnapshot(ctx context.Context, at time.Time, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("persistence: marshal device plan snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_plan_snapshots (captured_at, payload)
		VALUES ($1, $2)
		ON CONFLICT (captured_at) DO UPDATE SET payload = EXCLUDED.payload
	`, at.UTC(), data)
	if err != nil {
		return fmt.Errorf("persistence: save device plan snapshot: %w", err)
	}
	return nil
}

// PruneDevicePlanSnapshots deletes snapshots older than before, grounded on
// the teacher's delete-then-insert pattern (here, delete-then-prune since
// these are append-only history rather than an upsert-by-key table).
func (s *Store) PruneDevicePlanSnapshots(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM device_plan_snapshots WHERE captured_at < $1`, before.UTC())
	if err != nil {
		return fmt.Errorf("persistence: prune device plan snapshots: %w", err)
	}
	return nil
}

// PriceEntry is one persisted price point.
type PriceEntry struct {
	StartsAt time.Time
	Total    float64
	Currency string
}

// SavePriceSeries replaces the persisted price history for entries at or
// after the first entry's timestamp, mirroring the teacher's
// delete-then-insert transaction shape for a timestamp-keyed series.
func (s *Store) SavePriceSeries(ctx context.Context, entries []PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	minStart := entries[0].StartsAt
	for _, e := range entries[1:] {
		if e.StartsAt.Before(minStart) {
			minStart = e.StartsAt
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM price_series_history WHERE starts_at >= $1`, minStart.UTC()); err != nil {
		return fmt.Errorf("persistence: delete existing price entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_series_history (starts_at, total, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (starts_at) DO UPDATE SET total = EXCLUDED.total, currency = EXCLUDED.currency
	`)
	if err != nil {
		return fmt.Errorf("persistence: prepare price upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.StartsAt.UTC(), e.Total, e.Currency); err != nil {
			return fmt.Errorf("persistence: insert price entry at %s: %w", e.StartsAt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persistence: commit price series: %w", err)
	}
	return nil
}

// LoadPriceSeries returns persisted entries with starts_at >= from, ordered
// ascending.
func (s *Store) LoadPriceSeries(ctx context.Context, from time.Time) ([]PriceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT starts_at, total, currency FROM price_series_history
		WHERE starts_at >= $1 ORDER BY starts_at ASC
	`, from.UTC())
	if err != nil {
		return nil, fmt.Errorf("persistence: load price series: %w", err)
	}
	defer rows.Close()

	var out []PriceEntry
	for rows.Next() {
		var e PriceEntry
		if err := rows.Scan(&e.StartsAt, &e.Total, &e.Currency); err != nil {
			return nil, fmt.Errorf("persistence: scan price entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
