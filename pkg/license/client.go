package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LicenseClient talks to the license server's activation/validation API from
// the terminal side (see internal/activation for the server implementation).
type LicenseClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewLicenseClient creates a new license client.
func NewLicenseClient(baseURL string) *LicenseClient {
	return &LicenseClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ValidateRequest is sent to the license server's validate endpoint.
type ValidateRequest struct {
	LicenseKey      string `json:"license_key"`
	HardwareID      string `json:"hardware_id"`
	ClientWallClock int64  `json:"client_wall_clock"`
}

// ValidateResponse from the license server.
type ValidateResponse struct {
	Valid      bool      `json:"valid"`
	PlanType   PlanType  `json:"plan_type"`
	ExpiresAt  time.Time `json:"expires_at"`
	CanOffline bool      `json:"can_offline"`
	Message    string    `json:"message,omitempty"`
	ServerTime time.Time `json:"server_time"`
}

// Validate checks a license with the server.
func (c *LicenseClient) Validate(licenseKey, hardwareID string) (*ValidateResponse, error) {
	req := ValidateRequest{
		LicenseKey:      licenseKey,
		HardwareID:      hardwareID,
		ClientWallClock: time.Now().UnixMilli(),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/licenses/"+licenseKey+"/validate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "giro-terminal/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("license server unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("license server error: %s", resp.Status)
	}

	var validateResp ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&validateResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &validateResp, nil
}

// ActivateRequest for initial license activation.
type ActivateRequest struct {
	LicenseKey  string `json:"license_key"`
	HardwareID  string `json:"hardware_id"`
	MachineName string `json:"machine_name"`
	OSVersion   string `json:"os_version"`
	CPUInfo     string `json:"cpu_info"`
}

// ActivateResponse from activation.
type ActivateResponse struct {
	Status     string    `json:"status"`
	PlanType   PlanType  `json:"plan_type"`
	ExpiresAt  time.Time `json:"expires_at"`
	CanOffline bool      `json:"can_offline"`
	Message    string    `json:"message,omitempty"`
}

// Activate activates a license for this machine.
func (c *LicenseClient) Activate(key LicenseKey, hardwareID, machineName, osVersion, cpuInfo string) (*ActivateResponse, error) {
	req := ActivateRequest{
		LicenseKey:  string(key),
		HardwareID:  hardwareID,
		MachineName: machineName,
		OSVersion:   osVersion,
		CPUInfo:     cpuInfo,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/licenses/"+string(key)+"/activate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "giro-terminal/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("license server unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("activation failed: %s", resp.Status)
	}

	var activateResp ActivateResponse
	if err := json.NewDecoder(resp.Body).Decode(&activateResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &activateResp, nil
}

// RestoreRequest asks the server for the license key bound to this hardware.
type RestoreRequest struct {
	AdminID    string `json:"admin_id"`
	HardwareID string `json:"hardware_id"`
}

// RestoreResponse contains the recovered license key.
type RestoreResponse struct {
	LicenseKey string `json:"license_key"`
}

// Restore recovers a lost license key by admin + hardware fingerprint.
func (c *LicenseClient) Restore(adminID, hardwareID string) (*RestoreResponse, error) {
	req := RestoreRequest{AdminID: adminID, HardwareID: hardwareID}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/licenses/restore", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "giro-terminal/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("license server unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoLicense
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("restore failed: %s", resp.Status)
	}

	var restoreResp RestoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&restoreResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &restoreResp, nil
}
