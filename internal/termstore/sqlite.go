// Package termstore is the terminal-side embedded store: an application-
// directory SQLite file holding the cached license row, sync entities, and
// sync cursors. It implements internal/sync.Store so Master and Satellite
// both operate against it without knowing it is SQLite underneath.
package termstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jhonslife/giro-license-server/internal/models"
)

// Store is the embedded terminal database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path and ensures schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open terminal store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS license_cache (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			license_key TEXT NOT NULL,
			status TEXT NOT NULL,
			plan_type TEXT NOT NULL,
			expires_at TEXT,
			can_offline INTEGER NOT NULL DEFAULT 0,
			last_validated TEXT
		);

		CREATE TABLE IF NOT EXISTS sync_entities (
			kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			data BLOB NOT NULL,
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (kind, entity_id)
		);

		CREATE TABLE IF NOT EXISTS sync_cursors (
			hardware_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			last_version INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (hardware_id, kind)
		);

		CREATE TABLE IF NOT EXISTS sync_origins (
			origin_id TEXT PRIMARY KEY,
			seen_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate terminal store: %w", err)
	}
	return nil
}

// FetchFull reads every row for the requested kinds, used for the
// Satellite's cold-start sync.full.
func (s *Store) FetchFull(ctx context.Context, kinds []models.SyncEntityKind) ([]models.SyncEntity, int64, error) {
	if len(kinds) == 0 {
		return nil, 0, nil
	}

	query, args := inClauseQuery(`SELECT kind, entity_id, operation, data, version, updated_at FROM sync_entities WHERE kind IN`, kinds)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch full: %w", err)
	}
	defer rows.Close()

	var out []models.SyncEntity
	var max int64
	for rows.Next() {
		var e models.SyncEntity
		var updatedAt string
		if err := rows.Scan(&e.Kind, &e.EntityID, &e.Operation, &e.Data, &e.Version, &updatedAt); err != nil {
			return nil, 0, err
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, e)
		if e.Version > max {
			max = e.Version
		}
	}
	return out, max, rows.Err()
}

// FetchDelta reads rows with version greater than each kind's cursor.
func (s *Store) FetchDelta(ctx context.Context, kinds []models.SyncEntityKind, cursors map[models.SyncEntityKind]int64) ([]models.SyncEntity, map[models.SyncEntityKind]int64, error) {
	out := make(map[models.SyncEntityKind]int64, len(kinds))
	var entities []models.SyncEntity

	for _, kind := range kinds {
		rows, err := s.db.QueryContext(ctx, `
			SELECT kind, entity_id, operation, data, version, updated_at
			FROM sync_entities WHERE kind = ? AND version > ?
			ORDER BY version ASC
		`, string(kind), cursors[kind])
		if err != nil {
			return nil, nil, fmt.Errorf("fetch delta: %w", err)
		}

		for rows.Next() {
			var e models.SyncEntity
			var updatedAt string
			if err := rows.Scan(&e.Kind, &e.EntityID, &e.Operation, &e.Data, &e.Version, &updatedAt); err != nil {
				rows.Close()
				return nil, nil, err
			}
			e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
			entities = append(entities, e)
			if e.Version > out[kind] {
				out[kind] = e.Version
			}
		}
		rows.Close()
	}

	return entities, out, nil
}

// Upsert applies one mutation, assigning the next monotonic version for
// (kind, entity_id). Every call writes and bumps the version; it does not
// detect replays (the Master filters those by origin ID before calling it).
func (s *Store) Upsert(ctx context.Context, kind models.SyncEntityKind, entityID string, op models.SyncOperation, data []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM sync_entities WHERE kind = ? AND entity_id = ?`, string(kind), entityID).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}

	next := current + 1
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_entities (kind, entity_id, operation, data, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, entity_id) DO UPDATE SET
			operation = excluded.operation, data = excluded.data,
			version = excluded.version, updated_at = excluded.updated_at
	`, string(kind), entityID, string(op), data, next, now)
	if err != nil {
		return 0, fmt.Errorf("upsert entity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// AdvanceCursor moves a satellite's high-watermark for a kind forward.
func (s *Store) AdvanceCursor(ctx context.Context, hardwareID string, kind models.SyncEntityKind, version int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (hardware_id, kind, last_version, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (hardware_id, kind) DO UPDATE SET
			last_version = MAX(sync_cursors.last_version, excluded.last_version),
			updated_at = excluded.updated_at
	`, hardwareID, string(kind), version, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// Cursor returns the current high-watermark for (hardwareID, kind).
func (s *Store) Cursor(ctx context.Context, hardwareID string, kind models.SyncEntityKind) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT last_version FROM sync_cursors WHERE hardware_id = ? AND kind = ?`, hardwareID, string(kind)).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

// SeenOrigin reports whether a locally-originated UUID has already been applied.
func (s *Store) SeenOrigin(ctx context.Context, originID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sync_origins WHERE origin_id = ?)`, originID).Scan(&exists)
	return exists, err
}

// RecordOrigin marks a locally-originated UUID as applied.
func (s *Store) RecordOrigin(ctx context.Context, originID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO sync_origins (origin_id, seen_at) VALUES (?, ?)`, originID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// CacheLicense persists the terminal's local license snapshot, used by the
// offline-trust check in pkg/license.Manager.
func (s *Store) CacheLicense(ctx context.Context, lic *models.License) error {
	canOffline := 0
	if lic.CanOffline {
		canOffline = 1
	}
	var expiresAt, lastValidated *string
	if lic.ExpiresAt != nil {
		v := lic.ExpiresAt.UTC().Format(time.RFC3339Nano)
		expiresAt = &v
	}
	if lic.LastValidated != nil {
		v := lic.LastValidated.UTC().Format(time.RFC3339Nano)
		lastValidated = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO license_cache (id, license_key, status, plan_type, expires_at, can_offline, last_validated)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			license_key = excluded.license_key, status = excluded.status, plan_type = excluded.plan_type,
			expires_at = excluded.expires_at, can_offline = excluded.can_offline, last_validated = excluded.last_validated
	`, lic.LicenseKey, string(lic.Status), string(lic.PlanType), expiresAt, canOffline, lastValidated)
	return err
}

func inClauseQuery(prefix string, kinds []models.SyncEntityKind) (string, []any) {
	placeholders := ""
	args := make([]any, len(kinds))
	for i, k := range kinds {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = string(k)
	}
	return fmt.Sprintf("%s (%s)", prefix, placeholders), args
}
