package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jhonslife/giro-license-server/internal/middleware"
	"github.com/jhonslife/giro-license-server/internal/services"
)

// TelemetryHandler handles telemetry endpoints
type TelemetryHandler struct {
	telemetryService *services.TelemetryService
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(telemetryService *services.TelemetryService) *TelemetryHandler {
	return &TelemetryHandler{telemetryService: telemetryService}
}

// Receive accepts telemetry data from terminals. Telemetry for a license
// that has since expired or been revoked is still recorded — the rate
// limiter and activation endpoints are what actually gate access.
func (h *TelemetryHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var input services.TelemetryInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.telemetryService.RecordTelemetry(r.Context(), input); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record telemetry")
		return
	}

	respondSuccess(w, map[string]string{"status": "recorded"})
}

// GetStats returns dashboard stats for user
func (h *TelemetryHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userID, err := claims.GetUserUUID()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid user id")
		return
	}

	stats, err := h.telemetryService.GetDashboardStats(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	respondSuccess(w, stats)
}

// GetUsage returns usage history for user
func (h *TelemetryHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userID, err := claims.GetUserUUID()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid user id")
		return
	}

	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 {
		days = 7
	}

	usage, err := h.telemetryService.GetUsageHistory(r.Context(), userID, days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get usage")
		return
	}

	respondSuccess(w, map[string]interface{}{"usage": usage})
}

// GetInstances returns active instances for user
func (h *TelemetryHandler) GetInstances(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userID, err := claims.GetUserUUID()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid user id")
		return
	}

	instances, err := h.telemetryService.GetActiveInstances(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get instances")
		return
	}

	respondSuccess(w, map[string]interface{}{"instances": instances})
}
