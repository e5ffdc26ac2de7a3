package handler

import (
	"encoding/json"
	"net/http"

	"dw-console-gateway/internal/model"
	"dw-console-gateway/internal/session"
	"dw-console-gateway/pkg/apierror"
)

type SessionHandler struct {
	sessions *session.Manager
}

func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Get reports the current session snapshot. The UI polls this on boot to
// know whether it is still loading, signed in, or anonymous.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap := h.sessions.Snapshot()
	writeSuccess(w, http.StatusOK, map[string]any{
		"phase":                 snap.Phase.String(),
		"loading":               snap.Loading,
		"user":                  snap.User,
		"license":               snap.License,
		"needs_password_change": snap.NeedsPasswordChange,
	})
}

// UpdateProfile merges the submitted fields into the cached user and
// persists the result. The backend profile endpoint is proxied separately;
// this keeps the local session copy in step with what the UI just saved.
func (h *SessionHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body"))
		return
	}

	if result := h.sessions.UpdateUserProfile(r.Context(), payload); !result.Success {
		writeError(w, apierror.BadRequest(result.Error))
		return
	}
	writeSuccess(w, http.StatusOK, h.sessions.Snapshot().User)
}
