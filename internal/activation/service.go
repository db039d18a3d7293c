// Package activation implements the Activation/Validation Protocol: the
// request/response boundary between a terminal and the backend, guarded by
// the clock-drift check, hardware-slot accounting, and per-key rate limits,
// and backed by the license state machine for the actual transitions.
package activation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jhonslife/giro-license-server/internal/models"
	"github.com/jhonslife/giro-license-server/internal/ratelimit"
	"github.com/jhonslife/giro-license-server/internal/repository"
	"github.com/jhonslife/giro-license-server/internal/statemachine"
)

// Request is the common payload shape for activate and validate.
type Request struct {
	LicenseKey     string
	HardwareID     string
	MachineName    string
	OSVersion      string
	CPUInfo        string
	ClientWallClock time.Time
}

// Result is the projected license record returned to the terminal.
type Result struct {
	Status            models.LicenseStatus
	PlanType          models.PlanType
	ActivatedAt       *time.Time
	ExpiresAt         *time.Time
	SupportExpiresAt  *time.Time
	CanOffline        bool
	IsLifetime        bool
	HasAdmin          bool
	Message           string

	// Validate-only fields.
	Valid      bool
	ServerTime time.Time
}

// Service implements activate/validate/restore against the state machine and
// the identity store, applying rate limits and the drift guard first.
type Service struct {
	repo    *repository.LicenseRepository
	limiter *ratelimit.Limiter
	drift   time.Duration
}

// NewService constructs an activation Service.
func NewService(repo *repository.LicenseRepository, limiter *ratelimit.Limiter, driftTolerance time.Duration) *Service {
	return &Service{repo: repo, limiter: limiter, drift: driftTolerance}
}

// Activate resolves the license by key and applies the activate transition.
// Absence of the key yields the same NotFound shape as any other missing
// input — no enumeration of which field was wrong.
func (s *Service) Activate(ctx context.Context, req Request, sourceIP string) (*Result, error) {
	if err := s.limiter.Allow(ctx, ratelimit.ScopeActivation, sourceIP); err != nil {
		s.audit(ctx, uuid.Nil, req.HardwareID, "activate", false, "rate_limited", sourceIP)
		return nil, err
	}

	var binding *models.HardwareBinding
	var isNew bool
	lic, err := s.repo.Transition(ctx, req.LicenseKey, func(ctx context.Context, lic *models.License, bindings []models.HardwareBinding) (*models.HardwareBinding, error) {
		var err error
		binding, isNew, err = statemachine.Activate(time.Now().UTC(), lic, bindings, req.HardwareID, req.MachineName, req.OSVersion, req.CPUInfo)
		return binding, err
	})
	if err != nil {
		s.audit(ctx, licenseIDOrNil(lic), req.HardwareID, "activate", false, errCode(err), sourceIP)
		if errors.Is(err, repository.ErrLicenseNotFound) {
			return nil, statemachine.ErrNotFound
		}
		return nil, err
	}
	_ = isNew

	s.audit(ctx, lic.ID, req.HardwareID, "activate", true, "", sourceIP)

	return &Result{
		Status: lic.Status, PlanType: lic.PlanType, ActivatedAt: lic.ActivatedAt, ExpiresAt: lic.ExpiresAt,
		SupportExpiresAt: lic.SupportExpiresAt, CanOffline: lic.CanOffline, IsLifetime: lic.IsLifetime(),
		HasAdmin: lic.AdminID != uuid.Nil, Message: "",
	}, nil
}

// Validate resolves the license and applies the validate transition,
// enforcing the drift guard before the state-machine check.
func (s *Service) Validate(ctx context.Context, req Request, sourceIP string) (*Result, error) {
	principal := req.LicenseKey + "/" + req.HardwareID
	if err := s.limiter.Allow(ctx, ratelimit.ScopeValidation, principal); err != nil {
		s.audit(ctx, uuid.Nil, req.HardwareID, "validate", false, "rate_limited", sourceIP)
		return nil, err
	}

	now := time.Now().UTC()
	lic, err := s.repo.Transition(ctx, req.LicenseKey, func(ctx context.Context, lic *models.License, bindings []models.HardwareBinding) (*models.HardwareBinding, error) {
		return nil, statemachine.Validate(now, lic, bindings, req.HardwareID, req.ClientWallClock, s.drift)
	})
	if err != nil {
		s.audit(ctx, licenseIDOrNil(lic), req.HardwareID, "validate", false, errCode(err), sourceIP)
		if errors.Is(err, repository.ErrLicenseNotFound) {
			return nil, statemachine.ErrNotFound
		}
		return nil, err
	}

	s.audit(ctx, lic.ID, req.HardwareID, "validate", true, "", sourceIP)

	return &Result{
		Status: lic.Status, PlanType: lic.PlanType, ActivatedAt: lic.ActivatedAt, ExpiresAt: lic.ExpiresAt,
		SupportExpiresAt: lic.SupportExpiresAt, CanOffline: lic.CanOffline, IsLifetime: lic.IsLifetime(),
		HasAdmin: lic.AdminID != uuid.Nil, Valid: true, ServerTime: now,
	}, nil
}

// Restore returns the most recent license key bound to a given hardware
// fingerprint across an admin's licenses, for a terminal that lost local state.
func (s *Service) Restore(ctx context.Context, adminID uuid.UUID, hardwareID string) (string, error) {
	key, err := s.repo.RestoreByHardware(ctx, adminID, hardwareID)
	if err != nil {
		s.audit(ctx, uuid.Nil, hardwareID, "restore", false, errCode(err), "")
		return "", err
	}
	s.audit(ctx, uuid.Nil, hardwareID, "restore", true, "", "")
	return key, nil
}

func (s *Service) audit(ctx context.Context, licenseID uuid.UUID, hardwareID, action string, success bool, errCode, ip string) {
	_ = s.repo.InsertAudit(ctx, &models.LicenseAudit{
		ID: uuid.New(), LicenseID: licenseID, HardwareID: hardwareID, Action: action,
		Success: success, ErrorCode: errCode, IPAddress: ip, CreatedAt: time.Now().UTC(),
	})
}

func licenseIDOrNil(lic *models.License) uuid.UUID {
	if lic == nil {
		return uuid.Nil
	}
	return lic.ID
}

func errCode(err error) string {
	switch {
	case errors.Is(err, statemachine.ErrNotFound), errors.Is(err, repository.ErrLicenseNotFound):
		return "not_found"
	case errors.Is(err, statemachine.ErrSuspended):
		return "suspended"
	case errors.Is(err, statemachine.ErrExpired):
		return "expired"
	case errors.Is(err, statemachine.ErrRevoked):
		return "revoked"
	case errors.Is(err, statemachine.ErrHardwareLimitReached):
		return "hardware_limit_reached"
	case errors.Is(err, statemachine.ErrHardwareMismatch):
		return "hardware_mismatch"
	case errors.Is(err, statemachine.ErrClockDriftTooLarge):
		return "clock_drift_too_large"
	default:
		var rl *ratelimit.ErrRateLimited
		if errors.As(err, &rl) {
			return "rate_limited"
		}
		return "internal_error"
	}
}
