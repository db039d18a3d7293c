package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhonslife/giro-license-server/internal/models"
)

// ErrLicenseNotFound mirrors statemachine.ErrNotFound at the persistence
// boundary; kept separate so this package has no import on statemachine.
var ErrLicenseNotFound = errors.New("license not found")

// LicenseRepository persists licenses, hardware bindings, and audit entries
// in Postgres. Every mutating method runs inside a single transaction, per
// the identity-store invariant that license_hardware rows never exceed
// max_hardware.
type LicenseRepository struct {
	db *PostgresDB
}

// NewLicenseRepository constructs a LicenseRepository.
func NewLicenseRepository(db *PostgresDB) *LicenseRepository {
	return &LicenseRepository{db: db}
}

// GetByKey loads a license and its hardware bindings by license_key.
func (r *LicenseRepository) GetByKey(ctx context.Context, key string) (*models.License, []models.HardwareBinding, error) {
	return r.load(ctx, r.db.Pool(), "license_key = $1", key)
}

// GetByID loads a license and its hardware bindings by id.
func (r *LicenseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.License, []models.HardwareBinding, error) {
	return r.load(ctx, r.db.Pool(), "id = $1", id)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
}

func (r *LicenseRepository) load(ctx context.Context, q querier, whereClause string, arg any) (*models.License, []models.HardwareBinding, error) {
	var lic models.License
	err := q.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, admin_id, license_key, plan_type, status, max_hardware,
		       activated_at, expires_at, last_validated, support_expires_at,
		       can_offline, offline_activated_at, validation_count, revoked_at,
		       created_at, updated_at
		FROM licenses WHERE %s
	`, whereClause), arg).Scan(
		&lic.ID, &lic.AdminID, &lic.LicenseKey, &lic.PlanType, &lic.Status, &lic.MaxHardware,
		&lic.ActivatedAt, &lic.ExpiresAt, &lic.LastValidated, &lic.SupportExpiresAt,
		&lic.CanOffline, &lic.OfflineActivatedAt, &lic.ValidationCount, &lic.RevokedAt,
		&lic.CreatedAt, &lic.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrLicenseNotFound
		}
		return nil, nil, fmt.Errorf("load license: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, license_id, hardware_id, COALESCE(machine_name, ''), COALESCE(os_version, ''),
		       COALESCE(cpu_info, ''), activations_count, last_activated_at, created_at
		FROM license_hardware WHERE license_id = $1
		ORDER BY last_activated_at ASC
	`, lic.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load hardware bindings: %w", err)
	}
	defer rows.Close()

	var bindings []models.HardwareBinding
	for rows.Next() {
		var b models.HardwareBinding
		if err := rows.Scan(&b.ID, &b.LicenseID, &b.HardwareID, &b.MachineName, &b.OSVersion,
			&b.CPUInfo, &b.ActivationsCount, &b.LastActivatedAt, &b.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan hardware binding: %w", err)
		}
		bindings = append(bindings, b)
	}

	return &lic, bindings, nil
}

// Transition runs fn against the license and bindings loaded for update
// inside a single transaction, persists whatever fn changed on the license,
// and upserts binding if it is non-nil. The caller's fn implements one of the
// statemachine transitions; Transition owns only the storage envelope.
func (r *LicenseRepository) Transition(ctx context.Context, key string, fn func(ctx context.Context, lic *models.License, bindings []models.HardwareBinding) (*models.HardwareBinding, error)) (*models.License, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lic, bindings, err := r.load(ctx, tx, "license_key = $1 FOR UPDATE", key)
	if err != nil {
		return nil, err
	}

	// fn may mutate lic even when it returns an error — e.g. the lazy
	// Active->Expired transition Validate applies before reporting
	// ErrExpired — so the status row is written regardless of txErr and
	// only the error itself is propagated to the caller afterward.
	binding, txErr := fn(ctx, lic, bindings)

	if _, err := tx.Exec(ctx, `
		UPDATE licenses SET status = $1, activated_at = $2, expires_at = $3, last_validated = $4,
		       support_expires_at = $5, can_offline = $6, offline_activated_at = $7,
		       validation_count = $8, revoked_at = $9, updated_at = $10
		WHERE id = $11
	`, lic.Status, lic.ActivatedAt, lic.ExpiresAt, lic.LastValidated, lic.SupportExpiresAt,
		lic.CanOffline, lic.OfflineActivatedAt, lic.ValidationCount, lic.RevokedAt, time.Now().UTC(), lic.ID); err != nil {
		return nil, fmt.Errorf("update license: %w", err)
	}

	if txErr != nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return lic, txErr
	}

	if binding != nil {
		// Re-read count inside the transaction to close the race between the
		// in-memory slot check in the statemachine and a concurrent activation.
		var count int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM license_hardware WHERE license_id = $1 AND hardware_id <> $2`, lic.ID, binding.HardwareID).Scan(&count); err != nil {
			return nil, fmt.Errorf("recount bindings: %w", err)
		}
		if count >= lic.MaxHardware {
			return nil, fmt.Errorf("hardware limit reached on commit")
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO license_hardware (id, license_id, hardware_id, machine_name, os_version, cpu_info, activations_count, last_activated_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (license_id, hardware_id) DO UPDATE SET
				machine_name = EXCLUDED.machine_name,
				os_version = EXCLUDED.os_version,
				cpu_info = EXCLUDED.cpu_info,
				activations_count = EXCLUDED.activations_count,
				last_activated_at = EXCLUDED.last_activated_at
		`, binding.ID, binding.LicenseID, binding.HardwareID, binding.MachineName, binding.OSVersion,
			binding.CPUInfo, binding.ActivationsCount, binding.LastActivatedAt, binding.CreatedAt); err != nil {
			return nil, fmt.Errorf("upsert binding: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return lic, nil
}

// ClearBindings deletes every hardware binding for a license (used by transfer).
func (r *LicenseRepository) ClearBindings(ctx context.Context, licenseID uuid.UUID) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM license_hardware WHERE license_id = $1`, licenseID)
	return err
}

// Create inserts a freshly issued license in Pending status.
func (r *LicenseRepository) Create(ctx context.Context, lic *models.License) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO licenses (id, admin_id, license_key, plan_type, status, max_hardware, validation_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
	`, lic.ID, lic.AdminID, lic.LicenseKey, lic.PlanType, lic.Status, lic.MaxHardware, lic.CreatedAt)
	return err
}

// ListByAdmin returns the licenses owned by a given admin, newest first.
func (r *LicenseRepository) ListByAdmin(ctx context.Context, adminID uuid.UUID) ([]models.License, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, admin_id, license_key, plan_type, status, max_hardware,
		       activated_at, expires_at, last_validated, support_expires_at,
		       can_offline, offline_activated_at, validation_count, revoked_at,
		       created_at, updated_at
		FROM licenses WHERE admin_id = $1 ORDER BY created_at DESC
	`, adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.License
	for rows.Next() {
		var l models.License
		if err := rows.Scan(&l.ID, &l.AdminID, &l.LicenseKey, &l.PlanType, &l.Status, &l.MaxHardware,
			&l.ActivatedAt, &l.ExpiresAt, &l.LastValidated, &l.SupportExpiresAt,
			&l.CanOffline, &l.OfflineActivatedAt, &l.ValidationCount, &l.RevokedAt,
			&l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// ListByStatus supports paginated admin-scoped queries filtered by status.
func (r *LicenseRepository) ListByStatus(ctx context.Context, status models.LicenseStatus, limit, offset int) ([]models.License, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, admin_id, license_key, plan_type, status, max_hardware,
		       activated_at, expires_at, last_validated, support_expires_at,
		       can_offline, offline_activated_at, validation_count, revoked_at,
		       created_at, updated_at
		FROM licenses WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.License
	for rows.Next() {
		var l models.License
		if err := rows.Scan(&l.ID, &l.AdminID, &l.LicenseKey, &l.PlanType, &l.Status, &l.MaxHardware,
			&l.ActivatedAt, &l.ExpiresAt, &l.LastValidated, &l.SupportExpiresAt,
			&l.CanOffline, &l.OfflineActivatedAt, &l.ValidationCount, &l.RevokedAt,
			&l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// RestoreByHardware finds the most recently activated license key bound to a
// given hardware fingerprint across one admin's licenses.
func (r *LicenseRepository) RestoreByHardware(ctx context.Context, adminID uuid.UUID, hardwareID string) (string, error) {
	var key string
	err := r.db.Pool().QueryRow(ctx, `
		SELECT l.license_key FROM licenses l
		JOIN license_hardware h ON h.license_id = l.id
		WHERE l.admin_id = $1 AND h.hardware_id = $2
		ORDER BY h.last_activated_at DESC LIMIT 1
	`, adminID, hardwareID).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrLicenseNotFound
		}
		return "", err
	}
	return key, nil
}

// InsertAudit records one activation/validation/transfer/revoke attempt.
func (r *LicenseRepository) InsertAudit(ctx context.Context, a *models.LicenseAudit) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO license_audit (id, license_id, hardware_id, action, success, error_code, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.LicenseID, a.HardwareID, a.Action, a.Success, a.ErrorCode, a.IPAddress, a.CreatedAt)
	return err
}

// ExpireDue moves every Active, non-lifetime license whose expires_at has
// passed into Expired. Used by the periodic sweep in internal/scheduler.
func (r *LicenseRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE licenses SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND plan_type <> 'lifetime' AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
