package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jhonslife/giro-license-server/internal/middleware"
	"github.com/jhonslife/giro-license-server/internal/models"
	"github.com/jhonslife/giro-license-server/internal/services"
)

// PersonalizedDownloadHandler gates terminal installer downloads behind an
// active license: only an admin with at least one active license can
// request a presigned URL.
type PersonalizedDownloadHandler struct {
	downloadService *services.DownloadService
	licenseService  *services.LicenseService
}

// NewPersonalizedDownloadHandler creates a new handler
func NewPersonalizedDownloadHandler(downloadService *services.DownloadService, licenseService *services.LicenseService) *PersonalizedDownloadHandler {
	return &PersonalizedDownloadHandler{
		downloadService: downloadService,
		licenseService:  licenseService,
	}
}

func (h *PersonalizedDownloadHandler) activeLicense(r *http.Request, adminID uuid.UUID) (*models.License, error) {
	licenses, err := h.licenseService.ListByAdmin(r.Context(), adminID)
	if err != nil {
		return nil, err
	}
	for i := range licenses {
		if licenses[i].Status == models.LicenseStatusActive {
			return &licenses[i], nil
		}
	}
	return nil, nil
}

// DownloadPersonalized returns a presigned download URL for the terminal
// installer, requiring the caller to hold at least one active license.
func (h *PersonalizedDownloadHandler) DownloadPersonalized(w http.ResponseWriter, r *http.Request) {
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

	product := chi.URLParam(r, "product")
	version := chi.URLParam(r, "version")
	platform := chi.URLParam(r, "platform")

	if product == "" || platform == "" {
		respondError(w, http.StatusBadRequest, "product and platform are required")
		return
	}

	if version == "" || version == "latest" {
		version, err = h.downloadService.GetLatestVersion(r.Context(), product)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.downloadService.ValidateDownloadRequest(product, platform); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	active, err := h.activeLicense(r, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get license info")
		return
	}
	if active == nil {
		respondError(w, http.StatusForbidden, "no active license found - please subscribe first")
		return
	}

	download, err := h.downloadService.GetDownloadURL(r.Context(), product, version, platform)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to prepare download: %v", err))
		return
	}

	respondSuccess(w, download)
}

// GetDownloadInfo returns the releases available and whether the caller
// currently has an active license to download them with.
func (h *PersonalizedDownloadHandler) GetDownloadInfo(w http.ResponseWriter, r *http.Request) {
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

	releases, err := h.downloadService.ListReleases(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list releases")
		return
	}

	active, err := h.activeLicense(r, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get license info")
		return
	}

	respondSuccess(w, map[string]interface{}{
		"releases":      releases,
		"has_license":   active != nil,
		"message":       "Downloads are gated by an active license - activate your terminal with the license key after installing",
	})
}

// GenerateInstallScript generates a one-line install script for the
// caller's terminal, embedding their license key for activation.
func (h *PersonalizedDownloadHandler) GenerateInstallScript(w http.ResponseWriter, r *http.Request) {
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

	active, err := h.activeLicense(r, userID)
	if err != nil || active == nil {
		respondError(w, http.StatusForbidden, "no active license found")
		return
	}

	keyDisplay := active.LicenseKey
	if len(keyDisplay) > 20 {
		keyDisplay = keyDisplay[:20] + "..."
	}

	script := fmt.Sprintf(`#!/bin/bash
# GIRO terminal - one-line installer
# License: %s
# Generated for: %s

set -e

VERSION="1.0.0"
PLATFORM=$(uname -s | tr '[:upper:]' '[:lower:]')-$(uname -m | sed 's/x86_64/amd64/' | sed 's/aarch64/arm64/')

echo "Installing GIRO terminal..."

curl -fsSL "https://api.giro.io/api/v1/downloads/giro-terminal/$VERSION/$PLATFORM" -o giro-terminal

chmod +x giro-terminal

if [ -w /usr/local/bin ]; then
    mv giro-terminal /usr/local/bin/
else
    sudo mv giro-terminal /usr/local/bin/
fi

echo "GIRO terminal installed."
echo "Activate it with:"
echo "  giro-terminal activate %s"
`,
		keyDisplay,
		claims.Email,
		active.LicenseKey,
	)

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", "attachment; filename=install-giro.sh")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(script))
}
