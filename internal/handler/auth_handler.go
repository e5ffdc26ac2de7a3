package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"dw-console-gateway/internal/middleware"
	"dw-console-gateway/internal/model"
	"dw-console-gateway/internal/session"
	"dw-console-gateway/pkg/apierror"
)

type AuthHandler struct {
	sessions *session.Manager
	cookies  *middleware.CookieMirror
}

func NewAuthHandler(sessions *session.Manager, cookies *middleware.CookieMirror) *AuthHandler {
	return &AuthHandler{sessions: sessions, cookies: cookies}
}

// Login authenticates against the backend and, on success, sets the token
// cookie in the same response that confirms the login, so the mirror is
// consistent before the browser navigates anywhere.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body"))
		return
	}
	if strings.TrimSpace(payload.Username) == "" || payload.Password == "" {
		writeError(w, apierror.BadRequest("username and password are required"))
		return
	}

	result := h.sessions.Login(r.Context(), payload.Username, payload.Password, payload.RecaptchaToken)
	if !result.Success {
		writeError(w, apierror.Unauthorized(result.Error))
		return
	}

	h.cookies.Write(w, h.sessions.Token())

	snap := h.sessions.Snapshot()
	writeSuccess(w, http.StatusOK, map[string]any{
		"user":                  snap.User,
		"needs_password_change": snap.NeedsPasswordChange,
	})
}

// Logout clears the session and the cookie. Safe to call while anonymous.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context())
	h.cookies.Clear(w)
	writeSuccess(w, http.StatusOK, map[string]any{"logged_out": true})
}

// LogoutPage handles the browser navigation variant: clear and go to login.
func (h *AuthHandler) LogoutPage(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context())
	h.cookies.Clear(w)
	http.Redirect(w, r, "/auth/login", http.StatusFound)
}

// ForgotPassword relays the reset request. The response shape is identical
// whether or not the address exists; account enumeration stays impossible.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body"))
		return
	}
	if strings.TrimSpace(payload.Email) == "" {
		writeError(w, apierror.BadRequest("email is required"))
		return
	}

	result := h.sessions.ForgotPassword(r.Context(), payload.Email)
	if !result.Success {
		writeError(w, apierror.New("RESET_FAILED", result.Error, "", http.StatusBadGateway))
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"message": result.Message})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body"))
		return
	}
	if strings.TrimSpace(payload.Token) == "" || payload.NewPassword == "" {
		writeError(w, apierror.BadRequest("token and new password are required"))
		return
	}

	result := h.sessions.ResetPassword(r.Context(), payload.Token, payload.NewPassword)
	if !result.Success {
		writeError(w, apierror.New("RESET_FAILED", result.Error, "", http.StatusBadRequest))
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"message": result.Message})
}

// ChangePassword serves the forced password change. The token cookie is
// untouched; only the change_password flag moves.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body"))
		return
	}
	if payload.NewPassword == "" {
		writeError(w, apierror.BadRequest("new password is required"))
		return
	}

	result := h.sessions.ChangePasswordAfterLogin(r.Context(), payload.NewPassword)
	if !result.Success {
		writeError(w, apierror.New("CHANGE_FAILED", result.Error, "", http.StatusBadRequest))
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"message": result.Message})
}
