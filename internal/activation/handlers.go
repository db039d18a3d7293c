package activation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jhonslife/giro-license-server/internal/ratelimit"
	"github.com/jhonslife/giro-license-server/internal/statemachine"
)

// Handler exposes activate/validate/restore as chi-compatible HTTP handlers.
// These endpoints carry the license key and hardware ID, never an admin
// bearer token — kept on a separate mux tree from the admin-facing CRUD.
type Handler struct {
	svc *Service
}

// NewHandler builds an activation Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type activateBody struct {
	LicenseKey      string `json:"license_key"`
	HardwareID      string `json:"hardware_id"`
	MachineName     string `json:"machine_name"`
	OSVersion       string `json:"os_version"`
	CPUInfo         string `json:"cpu_info"`
	ClientWallClock int64  `json:"client_wall_clock"` // ms since epoch
}

// Activate handles POST /api/v1/license/activate. The license key is read
// from the JSON body; the route has no key path parameter.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	var body activateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.LicenseKey == "" || body.HardwareID == "" {
		respondError(w, http.StatusBadRequest, "invalid_payload", "license_key and hardware_id are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	req := Request{
		LicenseKey: body.LicenseKey, HardwareID: body.HardwareID,
		MachineName: body.MachineName, OSVersion: body.OSVersion, CPUInfo: body.CPUInfo,
		ClientWallClock: time.UnixMilli(body.ClientWallClock),
	}

	result, err := h.svc.Activate(ctx, req, clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resultBody(result))
}

type validateBody struct {
	LicenseKey      string `json:"license_key"`
	HardwareID      string `json:"hardware_id"`
	ClientWallClock int64  `json:"client_wall_clock"`
}

// Validate handles POST /api/v1/license/validate. The license key is read
// from the JSON body; the route has no key path parameter.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var body validateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.LicenseKey == "" || body.HardwareID == "" {
		respondError(w, http.StatusBadRequest, "invalid_payload", "license_key and hardware_id are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	req := Request{
		LicenseKey: body.LicenseKey, HardwareID: body.HardwareID,
		ClientWallClock: time.UnixMilli(body.ClientWallClock),
	}

	result, err := h.svc.Validate(ctx, req, clientIP(r))
	if err != nil {
		if msg, ok := statusMessage(err); ok {
			respondJSON(w, http.StatusOK, map[string]any{"valid": false, "message": msg, "server_time": time.Now().UTC()})
			return
		}
		writeError(w, err)
		return
	}

	body2 := resultBody(result)
	body2["valid"] = result.Valid
	body2["server_time"] = result.ServerTime
	respondJSON(w, http.StatusOK, body2)
}

type restoreBody struct {
	AdminID    string `json:"admin_id"`
	HardwareID string `json:"hardware_id"`
}

// Restore handles POST /api/v1/license/restore.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	var body restoreBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.HardwareID == "" || body.AdminID == "" {
		respondError(w, http.StatusBadRequest, "invalid_payload", "admin_id and hardware_id are required")
		return
	}

	adminID, err := uuid.Parse(body.AdminID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload", "admin_id must be a UUID")
		return
	}

	key, err := h.svc.Restore(r.Context(), adminID, body.HardwareID)
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"license_key": key})
}

func resultBody(r *Result) map[string]any {
	return map[string]any{
		"status": r.Status, "plan_type": r.PlanType, "activated_at": r.ActivatedAt,
		"expires_at": r.ExpiresAt, "support_expires_at": r.SupportExpiresAt,
		"can_offline": r.CanOffline, "is_lifetime": r.IsLifetime, "has_admin": r.HasAdmin,
		"message": r.Message,
	}
}

func writeError(w http.ResponseWriter, err error) {
	var rl *ratelimit.ErrRateLimited
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", rl.RetryAfter.String())
		respondError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.Is(err, statemachine.ErrNotFound):
		// No enumeration: any missing input reaches this same shape.
		respondError(w, http.StatusNotFound, "not_found", "license not found")
	case errors.Is(err, statemachine.ErrHardwareLimitReached):
		respondError(w, http.StatusConflict, "hardware_limit_reached", err.Error())
	case errors.Is(err, statemachine.ErrClockDriftTooLarge):
		respondError(w, http.StatusBadRequest, "clock_drift_too_large", err.Error())
	case errors.Is(err, statemachine.ErrHardwareMismatch):
		respondError(w, http.StatusForbidden, "hardware_mismatch", err.Error())
	case errors.Is(err, statemachine.ErrSuspended), errors.Is(err, statemachine.ErrExpired), errors.Is(err, statemachine.ErrRevoked):
		respondError(w, http.StatusForbidden, "license_unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error_code": code, "message": message})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
