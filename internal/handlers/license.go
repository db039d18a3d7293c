package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jhonslife/giro-license-server/internal/middleware"
	"github.com/jhonslife/giro-license-server/internal/models"
	"github.com/jhonslife/giro-license-server/internal/services"
)

// LicenseHandler handles the admin-facing license CRUD endpoints. The
// device-facing activate/validate/restore calls live in internal/activation.
type LicenseHandler struct {
	licenseService *services.LicenseService
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(licenseService *services.LicenseService) *LicenseHandler {
	return &LicenseHandler{licenseService: licenseService}
}

// Create issues a new license for the authenticated admin.
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	adminID, err := claims.GetUserUUID()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid admin id")
		return
	}

	var req struct {
		PlanType    string `json:"plan_type"`
		MaxHardware int    `json:"max_hardware"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lic, err := h.licenseService.Create(r.Context(), adminID, models.PlanType(req.PlanType), req.MaxHardware)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create license: "+err.Error())
		return
	}

	respondCreated(w, lic)
}

// List returns the authenticated admin's licenses.
func (h *LicenseHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	adminID, err := claims.GetUserUUID()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid admin id")
		return
	}

	licenses, err := h.licenseService.ListByAdmin(r.Context(), adminID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get licenses")
		return
	}

	respondSuccess(w, map[string]interface{}{"licenses": licenses})
}

// Get returns a single license owned by the authenticated admin (or any if staff).
func (h *LicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	adminID, err := claims.GetUserUUID()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid admin id")
		return
	}

	key := chi.URLParam(r, "key")
	lic, err := h.licenseService.Get(r.Context(), key, adminID, claims.Role == "admin")
	if err != nil {
		writeLicenseServiceError(w, err)
		return
	}

	respondSuccess(w, lic)
}

// Revoke revokes a license owned by the authenticated admin (or any if staff).
func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	adminID, err := claims.GetUserUUID()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid admin id")
		return
	}

	key := chi.URLParam(r, "key")
	if _, err := h.licenseService.Revoke(r.Context(), key, adminID, claims.Role == "admin"); err != nil {
		writeLicenseServiceError(w, err)
		return
	}

	respondSuccess(w, map[string]string{"message": "license revoked"})
}

// Transfer clears a license's hardware bindings so it can be re-activated
// on new hardware.
func (h *LicenseHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	adminID, err := claims.GetUserUUID()
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid admin id")
		return
	}

	key := chi.URLParam(r, "key")
	lic, err := h.licenseService.Transfer(r.Context(), key, adminID, claims.Role == "admin")
	if err != nil {
		writeLicenseServiceError(w, err)
		return
	}

	respondSuccess(w, lic)
}

// ListAll returns every license (staff only), paginated and optionally filtered by status.
func (h *LicenseHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if claims.Role != "admin" {
		respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	page := 1
	limit := 20
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := parseInt(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := parseInt(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	status := models.LicenseStatus(r.URL.Query().Get("status"))
	licenses, err := h.licenseService.ListAll(r.Context(), status, page, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get licenses")
		return
	}

	respondSuccess(w, map[string]interface{}{
		"licenses": licenses,
		"pagination": map[string]interface{}{
			"page":  page,
			"limit": limit,
		},
	})
}

// AdminGenerate issues a license for an arbitrary admin (staff only).
func (h *LicenseHandler) AdminGenerate(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil || claims.Role != "admin" {
		respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	var req struct {
		AdminID     string `json:"admin_id"`
		PlanType    string `json:"plan_type"`
		MaxHardware int    `json:"max_hardware"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	adminID, err := uuid.Parse(req.AdminID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid admin id")
		return
	}

	lic, err := h.licenseService.Create(r.Context(), adminID, models.PlanType(req.PlanType), req.MaxHardware)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create license: "+err.Error())
		return
	}

	respondCreated(w, lic)
}

// parseInt is a helper to parse a decimal string into an int.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.New("invalid integer")
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func writeLicenseServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrLicenseNotFound):
		respondError(w, http.StatusNotFound, "license not found")
	case errors.Is(err, services.ErrAccessDenied):
		respondError(w, http.StatusForbidden, "access denied")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
