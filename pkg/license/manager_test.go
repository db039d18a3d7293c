package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, kp *KeyPair) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		PublicKey:     kp.PublicKeyBase64(),
		LicenseServer: "http://127.0.0.1:1", // unreachable; never contacted since OfflineMode is set
		OfflineGrace:  time.Hour,
		CheckInterval: time.Hour,
		OfflineMode:   true,
	})
	require.NoError(t, err)
	return m
}

func TestManager_LoadFromKeyAcceptsValidSignedLicense(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	gen := NewLicenseGenerator(kp, "license.giro.io")
	key, err := gen.Generate(GenerateRequest{
		LicenseID: "lic-1", AdminID: "admin-1", PlanType: PlanAnnual,
		IssuedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(365 * 24 * time.Hour),
	})
	require.NoError(t, err)

	m := newTestManager(t, kp)
	require.NoError(t, m.LoadFromKey(key))

	assert.True(t, m.IsValid())
	assert.Equal(t, PlanAnnual, m.GetLicense().PlanType)
}

func TestManager_LoadFromKeyRejectsLicenseSignedByOtherKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)

	gen := NewLicenseGenerator(other, "license.giro.io")
	key, err := gen.Generate(GenerateRequest{LicenseID: "lic-1", PlanType: PlanMonthly, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	m := newTestManager(t, kp)
	err = m.LoadFromKey(key)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestManager_LoadFromKeyRejectsExpiredNonLifetimeLicense(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	gen := NewLicenseGenerator(kp, "license.giro.io")
	key, err := gen.Generate(GenerateRequest{
		LicenseID: "lic-1", PlanType: PlanMonthly,
		IssuedAt: time.Now().Add(-60 * 24 * time.Hour), ExpiresAt: time.Now().Add(-30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	m := newTestManager(t, kp)
	err = m.LoadFromKey(key)
	assert.ErrorIs(t, err, ErrLicenseExpired)
}

func TestManager_LoadFromKeyAcceptsLifetimeWithZeroExpiry(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	gen := NewLicenseGenerator(kp, "license.giro.io")
	key, err := gen.Generate(GenerateRequest{
		LicenseID: "lic-1", PlanType: PlanLifetime, IssuedAt: time.Now().Add(-3000 * 24 * time.Hour),
	})
	require.NoError(t, err)

	m := newTestManager(t, kp)
	require.NoError(t, m.LoadFromKey(key))
	assert.Equal(t, -1, m.GetStatus().DaysRemaining)
}

func TestManager_ValidateOnlineIsNoOpInOfflineMode(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	gen := NewLicenseGenerator(kp, "license.giro.io")
	key, err := gen.Generate(GenerateRequest{LicenseID: "lic-1", PlanType: PlanAnnual, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	m := newTestManager(t, kp)
	require.NoError(t, m.LoadFromKey(key))
	assert.NoError(t, m.ValidateOnline())
}
