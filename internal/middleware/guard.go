package middleware

import (
	"context"
	"net/http"
	"strings"

	"dw-console-gateway/internal/model"
)

// SessionState is the slice of the session manager the guard needs.
type SessionState interface {
	Loading() bool
	Snapshot() model.Snapshot
	Token() string
	Touch()
	ExpireIfStale(ctx context.Context) bool
}

const (
	loginPath          = "/auth/login"
	homePath           = "/home"
	changePasswordPath = "/auth/change-password"
	logoutPath         = "/auth/logout"
)

// Guard gates every protected route on session state, mirroring the
// original console's navigation rules:
//
//   - boot not resolved yet: hold the request, no redirect decision;
//   - anonymous on a protected path: send to the login page;
//   - authenticated on an auth page: send home, except the password-change
//     page while a change is required, and the logout page always;
//   - password change required: every protected path leads to the
//     password-change page.
//
// It also re-syncs the token cookie to the session on every pass, so the
// durable store and the cookie cannot stay diverged past one request.
type Guard struct {
	session SessionState
	cookies *CookieMirror
}

func NewGuard(session SessionState, cookies *CookieMirror) *Guard {
	return &Guard{session: session, cookies: cookies}
}

func (g *Guard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.session.ExpireIfStale(r.Context())

		if g.session.Loading() {
			g.writeHolding(w, r)
			return
		}

		snap := g.session.Snapshot()
		path := r.URL.Path
		isAuthPath := strings.HasPrefix(path, "/auth/")
		isChangePassword := path == changePasswordPath
		// Anyone may reach auth pages except the change-password page, which
		// belongs to an authenticated (if gated) session.
		isPublicPath := isAuthPath && !isChangePassword

		if snap.Phase != model.PhaseAuthenticated {
			g.syncCookie(w, r, "")
			if isPublicPath {
				next.ServeHTTP(w, r)
				return
			}
			g.deny(w, r)
			return
		}

		// Authenticated from here on.
		g.syncCookie(w, r, g.session.Token())
		g.session.Touch()

		switch {
		case snap.NeedsPasswordChange && !isAuthPath:
			g.redirect(w, r, changePasswordPath)
		case isAuthPath && !isChangePassword && path != logoutPath:
			g.redirect(w, r, homePath)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// syncCookie converges the browser cookie on the session's token; an empty
// token clears a lingering cookie.
func (g *Guard) syncCookie(w http.ResponseWriter, r *http.Request, token string) {
	if g.cookies == nil {
		return
	}
	if token == "" {
		if g.cookies.Present(r) {
			g.cookies.Clear(w)
		}
		return
	}
	if !g.cookies.Matches(r, token) {
		g.cookies.Write(w, token)
	}
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request) {
	if isNavigation(r) {
		g.redirect(w, r, loginPath)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = jsonEncode(w, model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: "UNAUTHORIZED", Message: "Authentication required"},
	})
}

// writeHolding answers requests that arrive before boot resolves: no
// redirect decision is valid yet, so the client is asked to retry shortly.
func (g *Guard) writeHolding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "1")
	if isNavigation(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`<!doctype html><meta http-equiv="refresh" content="1"><title>Loading</title><p>Loading…</p>`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = jsonEncode(w, model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: "SESSION_LOADING", Message: "Session is still initializing"},
	})
}

func (g *Guard) redirect(w http.ResponseWriter, r *http.Request, target string) {
	if isNavigation(r) {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = jsonEncode(w, model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: "REDIRECT", Message: "Navigation required", Details: target},
	})
}

// isNavigation distinguishes browser page loads from API calls: only page
// loads get HTTP redirects, API callers get machine-readable answers.
func isNavigation(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
