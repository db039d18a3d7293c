package license

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// KeyPair holds an Ed25519 key pair used to sign license keys.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair generates a new Ed25519 key pair for license signing.
// The private key should be kept secure and used only by the license server.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// PublicKeyBase64 returns the public key as a base64 string.
func (kp *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.PublicKey)
}

// PrivateKeyBase64 returns the private key as a base64 string.
func (kp *KeyPair) PrivateKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.PrivateKey)
}

// LoadKeyPair loads a key pair from base64 encoded strings.
func LoadKeyPair(pubBase64, privBase64 string) (*KeyPair, error) {
	pub, err := base64.StdEncoding.DecodeString(pubBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(privBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size")
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size")
	}
	return &KeyPair{PublicKey: ed25519.PublicKey(pub), PrivateKey: ed25519.PrivateKey(priv)}, nil
}

// LicenseGenerator creates signed license keys. It is the offline-verifiable
// counterpart to the Postgres-backed license row: the server still owns the
// authoritative state, but the signed blob lets a terminal trust a license it
// cannot currently reach the server to check.
type LicenseGenerator struct {
	keyPair *KeyPair
	issuer  string
}

// NewLicenseGenerator creates a new license generator.
func NewLicenseGenerator(keyPair *KeyPair, issuer string) *LicenseGenerator {
	return &LicenseGenerator{keyPair: keyPair, issuer: issuer}
}

// NewLicenseGeneratorFromBase64 creates a license generator from a base64 encoded private key.
func NewLicenseGeneratorFromBase64(privateKeyBase64, issuer string) (*LicenseGenerator, error) {
	privBytes, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid private key encoding: %w", err)
	}
	if len(privBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size")
	}

	privateKey := ed25519.PrivateKey(privBytes)
	publicKey := privateKey.Public().(ed25519.PublicKey)

	return &LicenseGenerator{
		keyPair: &KeyPair{PrivateKey: privateKey, PublicKey: publicKey},
		issuer:  issuer,
	}, nil
}

// GenerateRequest contains parameters for generating a signed license blob.
type GenerateRequest struct {
	LicenseID        string
	AdminID          string
	AdminName        string
	PlanType         PlanType
	IssuedAt         time.Time
	ExpiresAt        time.Time // zero for lifetime plans
	SupportExpiresAt time.Time
	HardwareID       string // optional, set once the first activation binds it
	Metadata         map[string]string
}

// Generate creates a new signed license blob.
func (g *LicenseGenerator) Generate(req GenerateRequest) (LicenseKey, error) {
	lic := License{
		ID:               req.LicenseID,
		AdminID:          req.AdminID,
		AdminName:        req.AdminName,
		PlanType:         req.PlanType,
		IssuedAt:         req.IssuedAt,
		ExpiresAt:        req.ExpiresAt,
		SupportExpiresAt: req.SupportExpiresAt,
		HardwareID:       req.HardwareID,
		Issuer:           g.issuer,
		Version:          1,
		Metadata:         req.Metadata,
	}

	lic.Signature = ""
	jsonData, err := json.Marshal(lic)
	if err != nil {
		return "", fmt.Errorf("failed to serialize license: %w", err)
	}

	signature := ed25519.Sign(g.keyPair.PrivateKey, jsonData)

	key := fmt.Sprintf("%s.%s",
		base64.RawURLEncoding.EncodeToString(jsonData),
		base64.RawURLEncoding.EncodeToString(signature))

	return LicenseKey(key), nil
}

// VerifyLicense verifies a license blob's signature using a public key.
func VerifyLicense(key LicenseKey, publicKey ed25519.PublicKey) (*License, error) {
	parts := splitLicenseKey(string(key))
	if len(parts) != 2 {
		return nil, ErrInvalidLicense
	}

	jsonData, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payload encoding", ErrInvalidLicense)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature encoding", ErrInvalidLicense)
	}

	if !ed25519.Verify(publicKey, jsonData, signature) {
		return nil, ErrInvalidSignature
	}

	var lic License
	if err := json.Unmarshal(jsonData, &lic); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON", ErrInvalidLicense)
	}

	return &lic, nil
}

func splitLicenseKey(key string) []string {
	result := make([]string, 0, 2)
	lastDot := -1
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '.' {
			lastDot = i
			break
		}
	}
	if lastDot == -1 {
		return []string{key}
	}
	return append(result, key[:lastDot], key[lastDot+1:])
}
