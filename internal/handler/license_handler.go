package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"dw-console-gateway/internal/model"
	"dw-console-gateway/internal/session"
	"dw-console-gateway/internal/upstream"
	"dw-console-gateway/pkg/apierror"
)

type LicenseHandler struct {
	sessions *session.Manager
	upstream *upstream.Client
}

func NewLicenseHandler(sessions *session.Manager, client *upstream.Client) *LicenseHandler {
	return &LicenseHandler{sessions: sessions, upstream: client}
}

// Status serves the cached license verdict. A cold cache triggers a
// synchronous refresh so the first caller after boot still gets an answer.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.sessions.License()
	if status == nil {
		fresh := h.sessions.RefreshLicense(r.Context())
		status = &fresh
	}
	writeSuccess(w, http.StatusOK, status)
}

func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.ActivateLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body"))
		return
	}
	if strings.TrimSpace(payload.LicenseKey) == "" {
		writeError(w, apierror.BadRequest("license key is required"))
		return
	}

	message, err := h.upstream.ActivateLicense(r.Context(), h.sessions.Token(), payload.LicenseKey)
	if err != nil {
		writeError(w, err)
		return
	}

	// The poll loop would pick this up within a cycle; refresh now so the
	// activation response already reflects the new state.
	status := h.sessions.RefreshLicense(r.Context())
	writeSuccess(w, http.StatusOK, map[string]any{
		"message": message,
		"license": status,
	})
}

func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	message, err := h.upstream.DeactivateLicense(r.Context(), h.sessions.Token())
	if err != nil {
		writeError(w, err)
		return
	}

	status := h.sessions.RefreshLicense(r.Context())
	writeSuccess(w, http.StatusOK, map[string]any{
		"message": message,
		"license": status,
	})
}
