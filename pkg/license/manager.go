// Package license implements the terminal side of the fleet's license
// trust model: an Ed25519-signed license blob that a point-of-sale terminal
// can verify without network access, online re-validation against the
// license server with a bounded offline grace window, and the hardware
// fingerprint used to bind a license to one machine.
package license

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// PlanType mirrors internal/models.PlanType; kept as an independent string
// type here so this package has no dependency on the server-side module tree.
type PlanType string

const (
	PlanMonthly    PlanType = "monthly"
	PlanSemiannual PlanType = "semiannual"
	PlanAnnual     PlanType = "annual"
	PlanLifetime   PlanType = "lifetime"
)

// License is the signed, offline-verifiable license blob embedded in a
// license key's payload half.
type License struct {
	ID        string   `json:"id"`
	AdminID   string   `json:"admin_id"`
	AdminName string   `json:"admin_name"`
	PlanType  PlanType `json:"plan_type"`

	IssuedAt         time.Time `json:"issued_at"`
	ExpiresAt        time.Time `json:"expires_at,omitempty"` // zero for lifetime plans
	SupportExpiresAt time.Time `json:"support_expires_at,omitempty"`

	HardwareID string `json:"hardware_id,omitempty"`

	Issuer    string            `json:"issuer"`
	Version   int               `json:"version"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Signature string            `json:"signature"`
}

// IsLifetime reports whether the license never expires.
func (l *License) IsLifetime() bool { return l.PlanType == PlanLifetime }

// LicenseKey is the encoded form of a License (base64 JSON + signature).
type LicenseKey string

// LicenseStatus is the terminal-local view of license health.
type LicenseStatus struct {
	Valid           bool      `json:"valid"`
	PlanType        PlanType  `json:"plan_type"`
	ExpiresAt       time.Time `json:"expires_at"`
	DaysRemaining   int       `json:"days_remaining"`
	LastValidated   time.Time `json:"last_validated"`
	OnlineValidated bool      `json:"online_validated"`
	GracePeriod     bool      `json:"grace_period"`
	Message         string    `json:"message,omitempty"`
}

// Errors returned by Manager.
var (
	ErrNoLicense           = errors.New("no license key provided")
	ErrInvalidLicense      = errors.New("invalid license key format")
	ErrInvalidSignature    = errors.New("license signature verification failed")
	ErrLicenseExpired      = errors.New("license has expired")
	ErrHardwareMismatch    = errors.New("license is bound to different hardware")
	ErrOnlineCheckRequired = errors.New("online license validation required")
	ErrGracePeriodExpired  = errors.New("grace period has expired")
)

// Manager is the terminal-side guardian of one license: it holds the signed
// blob, re-validates it against the license server on a schedule, and falls
// back to a bounded offline grace window when the server is unreachable.
type Manager struct {
	mu sync.RWMutex

	license *License
	status  LicenseStatus

	publicKey       ed25519.PublicKey
	licenseServer   string
	offlineGrace    time.Duration
	checkInterval   time.Duration
	hardwareID      string
	telemetryClient *TelemetryClient
	offlineMode     bool

	lastOnlineCheck time.Time
	offlineSince    time.Time
}

// ManagerConfig configures the license manager.
type ManagerConfig struct {
	PublicKey       string // base64 encoded Ed25519 public key
	LicenseServer   string
	OfflineGrace    time.Duration
	CheckInterval   time.Duration
	EnableTelemetry bool
	TelemetryURL    string
	OfflineMode     bool // skip all network calls (air-gapped deployment)
}

// DefaultConfig returns default configuration.
func DefaultConfig() ManagerConfig {
	return ManagerConfig{
		LicenseServer: "https://license.giro.io",
		OfflineGrace:  7 * 24 * time.Hour,
		CheckInterval: 24 * time.Hour,
		TelemetryURL:  "https://telemetry.giro.io",
	}
}

// NewManager creates a new license manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	pubKeyBytes, err := base64.StdEncoding.DecodeString(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: expected %d, got %d", ed25519.PublicKeySize, len(pubKeyBytes))
	}

	m := &Manager{
		publicKey:     ed25519.PublicKey(pubKeyBytes),
		licenseServer: cfg.LicenseServer,
		offlineGrace:  cfg.OfflineGrace,
		checkInterval: cfg.CheckInterval,
		offlineMode:   cfg.OfflineMode,
	}

	m.hardwareID, err = GenerateHardwareID()
	if err != nil {
		m.hardwareID = "unknown"
	}

	if cfg.EnableTelemetry && cfg.TelemetryURL != "" && !cfg.OfflineMode {
		m.telemetryClient = NewTelemetryClient(cfg.TelemetryURL)
	}

	return m, nil
}

// IsOfflineMode returns whether the manager is in forced offline mode.
func (m *Manager) IsOfflineMode() bool { return m.offlineMode }

// LoadFromEnv loads a license key from an environment variable.
func (m *Manager) LoadFromEnv(envVar string) error {
	key := os.Getenv(envVar)
	if key == "" {
		return ErrNoLicense
	}
	return m.LoadFromKey(LicenseKey(key))
}

// LoadFromFile loads a license key from a file.
func (m *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read license file: %w", err)
	}
	return m.LoadFromKey(LicenseKey(strings.TrimSpace(string(data))))
}

// LoadFromKey parses, verifies, and locally validates a license key.
func (m *Manager) LoadFromKey(key LicenseKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lic, err := m.parseAndVerify(key)
	if err != nil {
		return err
	}

	if lic.HardwareID != "" && lic.HardwareID != m.hardwareID {
		return ErrHardwareMismatch
	}

	if !lic.IsLifetime() && !lic.ExpiresAt.IsZero() && time.Now().After(lic.ExpiresAt) {
		return ErrLicenseExpired
	}

	m.license = lic
	m.status = LicenseStatus{
		Valid:         true,
		PlanType:      lic.PlanType,
		ExpiresAt:     lic.ExpiresAt,
		DaysRemaining: daysRemaining(lic),
		LastValidated: time.Now(),
	}

	return nil
}

func daysRemaining(lic *License) int {
	if lic.IsLifetime() || lic.ExpiresAt.IsZero() {
		return -1
	}
	return int(time.Until(lic.ExpiresAt).Hours() / 24)
}

func (m *Manager) parseAndVerify(key LicenseKey) (*License, error) {
	parts := strings.Split(string(key), ".")
	if len(parts) != 2 {
		return nil, ErrInvalidLicense
	}

	jsonData, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 payload", ErrInvalidLicense)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 signature", ErrInvalidLicense)
	}

	if !ed25519.Verify(m.publicKey, jsonData, signature) {
		return nil, ErrInvalidSignature
	}

	var lic License
	if err := json.Unmarshal(jsonData, &lic); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON", ErrInvalidLicense)
	}

	return &lic, nil
}

// ValidateOnline re-checks the license against the server, falling back to
// the offline grace window if the server cannot be reached.
func (m *Manager) ValidateOnline() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offlineMode {
		return nil
	}
	if m.license == nil {
		return ErrNoLicense
	}

	client := NewLicenseClient(m.licenseServer)
	resp, err := client.Validate(string(m.license.ID), m.hardwareID)
	if err != nil {
		if m.offlineSince.IsZero() {
			m.offlineSince = time.Now()
		}

		elapsed := time.Since(m.offlineSince)
		if elapsed > m.offlineGrace {
			m.status.Valid = false
			m.status.GracePeriod = false
			m.status.Message = "grace period expired, online validation required"
			return ErrGracePeriodExpired
		}

		m.status.GracePeriod = true
		m.status.Message = fmt.Sprintf("offline mode, %d days grace remaining", int((m.offlineGrace-elapsed).Hours()/24))
		return nil
	}

	m.offlineSince = time.Time{}
	m.lastOnlineCheck = time.Now()
	m.status.OnlineValidated = true
	m.status.GracePeriod = false
	m.status.LastValidated = time.Now()

	if !resp.Valid {
		m.status.Valid = false
		m.status.Message = resp.Message
		return fmt.Errorf("license rejected by server: %s", resp.Message)
	}

	m.status.PlanType = resp.PlanType
	if !resp.ExpiresAt.IsZero() {
		m.license.ExpiresAt = resp.ExpiresAt
		m.status.ExpiresAt = resp.ExpiresAt
		m.status.DaysRemaining = daysRemaining(m.license)
	}

	return nil
}

// GetStatus returns the current license status.
func (m *Manager) GetStatus() LicenseStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// GetLicense returns the current license, or nil if none is loaded.
func (m *Manager) GetLicense() *License {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.license
}

// IsValid reports whether the license is currently considered valid.
func (m *Manager) IsValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Valid
}

// StartBackgroundValidation starts periodic online re-validation.
func (m *Manager) StartBackgroundValidation(ctx context.Context) {
	if m.offlineMode {
		return
	}

	go func() {
		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = m.ValidateOnline() // grace period absorbs transient failures

				if m.telemetryClient != nil {
					m.sendTelemetry()
				}
			}
		}
	}()
}

func (m *Manager) sendTelemetry() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.license == nil || m.telemetryClient == nil {
		return
	}

	m.telemetryClient.Send(TelemetryEvent{
		LicenseID:  m.license.ID,
		AdminID:    m.license.AdminID,
		HardwareID: m.hardwareID,
		Timestamp:  time.Now(),
	})
}
