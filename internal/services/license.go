package services

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhonslife/giro-license-server/internal/models"
	"github.com/jhonslife/giro-license-server/internal/repository"
	"github.com/jhonslife/giro-license-server/internal/statemachine"
	"github.com/jhonslife/giro-license-server/pkg/license"
)

var (
	ErrLicenseNotFound = errors.New("license not found")
	ErrAccessDenied    = errors.New("access denied")
)

// LicenseService is the admin-facing license CRUD surface: issuing,
// listing, revoking, and transferring licenses. It is distinct from
// internal/activation, which handles the device-facing activate/validate
// calls that never carry an admin bearer token.
type LicenseService struct {
	repo      *repository.LicenseRepository
	generator *license.LicenseGenerator
	issuer    string
}

// NewLicenseService creates a new license service.
func NewLicenseService(repo *repository.LicenseRepository, privateKeyBase64, issuer string) *LicenseService {
	svc := &LicenseService{repo: repo, issuer: issuer}

	if privateKeyBase64 != "" {
		generator, err := license.NewLicenseGeneratorFromBase64(privateKeyBase64, issuer)
		if err == nil {
			svc.generator = generator
		}
	}

	return svc
}

// Create issues a new Pending license for an admin.
func (s *LicenseService) Create(ctx context.Context, adminID uuid.UUID, planType models.PlanType, maxHardware int) (*models.License, error) {
	if maxHardware <= 0 {
		maxHardware = 1
	}

	lic := &models.License{
		ID:          uuid.New(),
		AdminID:     adminID,
		LicenseKey:  generateLicenseKey(),
		PlanType:    planType,
		Status:      models.LicenseStatusPending,
		MaxHardware: maxHardware,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, lic); err != nil {
		return nil, fmt.Errorf("create license: %w", err)
	}

	return lic, nil
}

// Get loads a license by key, checking ownership unless the caller is staff.
func (s *LicenseService) Get(ctx context.Context, key string, requesterID uuid.UUID, isStaff bool) (*models.License, error) {
	lic, _, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	if !isStaff && lic.AdminID != requesterID {
		return nil, ErrAccessDenied
	}
	return lic, nil
}

// ListByAdmin returns the licenses an admin owns.
func (s *LicenseService) ListByAdmin(ctx context.Context, adminID uuid.UUID) ([]models.License, error) {
	return s.repo.ListByAdmin(ctx, adminID)
}

// ListAll supports the staff-only paginated listing, optionally filtered by status.
func (s *LicenseService) ListAll(ctx context.Context, status models.LicenseStatus, page, limit int) ([]models.License, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByStatus(ctx, status, limit, (page-1)*limit)
}

// Revoke moves a license to Revoked, checking ownership unless the caller is staff.
func (s *LicenseService) Revoke(ctx context.Context, key string, requesterID uuid.UUID, isStaff bool) (*models.License, error) {
	lic, _, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	if !isStaff && lic.AdminID != requesterID {
		return nil, ErrAccessDenied
	}

	return s.repo.Transition(ctx, key, func(ctx context.Context, lic *models.License, bindings []models.HardwareBinding) (*models.HardwareBinding, error) {
		return nil, statemachine.Revoke(time.Now().UTC(), lic)
	})
}

// Transfer clears every hardware binding on a license so the next activation
// claims a fresh slot, e.g. when an operator swaps terminal hardware.
func (s *LicenseService) Transfer(ctx context.Context, key string, requesterID uuid.UUID, isStaff bool) (*models.License, error) {
	lic, _, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	if !isStaff && lic.AdminID != requesterID {
		return nil, ErrAccessDenied
	}

	if err := s.repo.ClearBindings(ctx, lic.ID); err != nil {
		return nil, fmt.Errorf("clear bindings: %w", err)
	}
	return lic, nil
}

// generateLicenseKey issues a human-typeable key in GIRO-XXXX-XXXX-XXXX form.
// The signed offline-verifiable blob (pkg/license) is issued separately by
// AdminGenerate for terminals that need to operate air-gapped.
func generateLicenseKey() string {
	buf := make([]byte, 10)
	_, _ = rand.Read(buf)
	encoded := strings.ToUpper(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))

	var groups []string
	for i := 0; i < len(encoded); i += 4 {
		end := i + 4
		if end > len(encoded) {
			end = len(encoded)
		}
		groups = append(groups, encoded[i:end])
	}
	return "GIRO-" + strings.Join(groups, "-")
}
