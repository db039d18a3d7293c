// Package statemachine implements the pure transition logic of the license
// lifecycle: activate, validate, transfer, and revoke. It holds no storage or
// network concerns — callers (internal/activation, internal/repository) load
// a License plus its HardwareBindings, apply a transition here, and persist
// the result inside a single transaction.
package statemachine

import (
	"time"

	"github.com/google/uuid"

	"github.com/jhonslife/giro-license-server/internal/models"
)

// Activate applies the `activate(license_key, hw_id, machine_meta)` transition.
// It mutates lic in place and returns the binding that should be upserted by
// the caller. isNew reports whether a fresh hardware slot was consumed.
func Activate(now time.Time, lic *models.License, bindings []models.HardwareBinding, hwID, machineName, osVersion, cpuInfo string) (binding *models.HardwareBinding, isNew bool, err error) {
	switch lic.Status {
	case models.LicenseStatusPending, models.LicenseStatusActive:
		// allowed
	case models.LicenseStatusSuspended:
		return nil, false, ErrSuspended
	case models.LicenseStatusExpired:
		return nil, false, ErrExpired
	case models.LicenseStatusRevoked:
		return nil, false, ErrRevoked
	default:
		return nil, false, ErrUnauthorized
	}

	existing := findBinding(bindings, hwID)
	if existing == nil && len(bindings) >= lic.MaxHardware {
		return nil, false, ErrHardwareLimitReached
	}

	first := lic.ActivatedAt == nil
	if first {
		activatedAt := now
		lic.ActivatedAt = &activatedAt
		expires := now.AddDate(0, 0, models.PlanValidityDays[lic.PlanType])
		lic.ExpiresAt = &expires
		if lic.PlanType == models.PlanLifetime {
			supportExpires := now.AddDate(0, 0, models.LifetimeSupportDays)
			lic.SupportExpiresAt = &supportExpires
		}
	}
	lic.Status = models.LicenseStatusActive

	if existing != nil {
		existing.MachineName = machineName
		existing.OSVersion = osVersion
		existing.CPUInfo = cpuInfo
		existing.ActivationsCount++
		existing.LastActivatedAt = now
		return existing, false, nil
	}

	return &models.HardwareBinding{
		ID:               uuid.New(),
		LicenseID:        lic.ID,
		HardwareID:       hwID,
		MachineName:      machineName,
		OSVersion:        osVersion,
		CPUInfo:          cpuInfo,
		ActivationsCount: 1,
		LastActivatedAt:  now,
		CreatedAt:        now,
	}, true, nil
}

// Validate applies the `validate(license_key, hw_id, client_time)` transition.
// It mutates lic in place (last_validated, validation_count, and the
// offline-eligible promotion for Lifetime plans past their validation window).
func Validate(now time.Time, lic *models.License, bindings []models.HardwareBinding, hwID string, clientTime time.Time, driftTolerance time.Duration) error {
	switch lic.Status {
	case models.LicenseStatusActive:
		// allowed
	case models.LicenseStatusSuspended:
		return ErrSuspended
	case models.LicenseStatusExpired:
		return ErrExpired
	case models.LicenseStatusRevoked:
		return ErrRevoked
	default:
		return ErrUnauthorized
	}

	// Lazy expiry: a non-lifetime license past its expires_at is Expired the
	// instant anyone validates it, independent of how recently the periodic
	// sweep (internal/scheduler) last ran.
	if ExpireIfDue(now, lic) {
		return ErrExpired
	}

	if findBinding(bindings, hwID) == nil {
		return ErrHardwareMismatch
	}

	drift := now.Sub(clientTime)
	if drift < 0 {
		drift = -drift
	}
	if drift > driftTolerance {
		return ErrClockDriftTooLarge
	}

	lic.LastValidated = &now
	lic.ValidationCount++

	if lic.PlanType == models.PlanLifetime && lic.ExpiresAt != nil && now.After(*lic.ExpiresAt) {
		lic.CanOffline = true
		if lic.OfflineActivatedAt == nil {
			offlineAt := now
			lic.OfflineActivatedAt = &offlineAt
		}
	}

	return nil
}

// Transfer is the state-machine step of a transfer: status and dates stay
// untouched and nothing on lic changes. It returns nothing; the binding rows
// are deleted by the storage layer (repository ClearBindings), not here.
func Transfer(lic *models.License) {
	// intentionally a no-op on lic itself: bindings are cleared by the caller's
	// storage layer. Kept as a function so the transition reads symmetrically
	// with Activate/Validate/Revoke at call sites.
	_ = lic
}

// Revoke applies the terminal `revoke(license_key)` transition.
func Revoke(now time.Time, lic *models.License) error {
	if lic.Status == models.LicenseStatusRevoked {
		return ErrRevoked
	}
	lic.Status = models.LicenseStatusRevoked
	lic.RevokedAt = &now
	return nil
}

// ExpireIfDue moves an Active, non-lifetime license whose expires_at has
// passed into Expired. Used inline by Validate; the periodic sweep uses
// repository.LicenseRepository.ExpireDue instead.
func ExpireIfDue(now time.Time, lic *models.License) bool {
	if lic.Status != models.LicenseStatusActive {
		return false
	}
	if lic.PlanType == models.PlanLifetime {
		return false
	}
	if lic.ExpiresAt == nil || !now.After(*lic.ExpiresAt) {
		return false
	}
	lic.Status = models.LicenseStatusExpired
	return true
}

func findBinding(bindings []models.HardwareBinding, hwID string) *models.HardwareBinding {
	for i := range bindings {
		if bindings[i].HardwareID == hwID {
			return &bindings[i]
		}
	}
	return nil
}
