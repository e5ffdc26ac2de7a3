package handler

import (
	"fmt"
	"html"
	"net/http"

	"dw-console-gateway/internal/session"
)

// PageHandler renders the gateway's minimal built-in pages. The real admin
// console is a separate frontend; these pages exist so the guard's redirect
// targets resolve even when the gateway runs standalone.
type PageHandler struct {
	sessions *session.Manager
}

func NewPageHandler(sessions *session.Manager) *PageHandler {
	return &PageHandler{sessions: sessions}
}

func (h *PageHandler) Home(w http.ResponseWriter, _ *http.Request) {
	snap := h.sessions.Snapshot()
	name := ""
	if snap.User != nil {
		name = snap.User.Username
	}
	writePage(w, "Console", fmt.Sprintf(`<h1>Console</h1>
    <p>Signed in as <strong>%s</strong>.</p>
    <p><a href="/auth/logout">Sign out</a></p>`, name))
}

func (h *PageHandler) Login(w http.ResponseWriter, _ *http.Request) {
	writePage(w, "Sign in", `<h1>Sign in</h1>
    <form onsubmit="return submitJSON(event, '/auth/login', '/home')">
      <input name="username" placeholder="Username" autocomplete="username" />
      <input name="password" type="password" placeholder="Password" autocomplete="current-password" />
      <button type="submit">Sign in</button>
    </form>
    <p><a href="/auth/forgot-password">Forgot password?</a></p>`)
}

func (h *PageHandler) ForgotPassword(w http.ResponseWriter, _ *http.Request) {
	writePage(w, "Forgot password", `<h1>Forgot password</h1>
    <form onsubmit="return submitJSON(event, '/auth/forgot-password', '')">
      <input name="email" type="email" placeholder="Email" autocomplete="email" />
      <button type="submit">Send reset link</button>
    </form>
    <p><a href="/auth/login">Back to sign in</a></p>`)
}

func (h *PageHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	// The token comes from an emailed link, which means it is attacker
	// suppliable; escape it before it lands in the attribute.
	token := html.EscapeString(r.URL.Query().Get("token"))
	writePage(w, "Reset password", fmt.Sprintf(`<h1>Reset password</h1>
    <form onsubmit="return submitJSON(event, '/auth/reset-password', '/auth/login')">
      <input name="token" type="hidden" value="%s" />
      <input name="new_password" type="password" placeholder="New password" autocomplete="new-password" />
      <button type="submit">Reset password</button>
    </form>`, token))
}

func (h *PageHandler) ChangePassword(w http.ResponseWriter, _ *http.Request) {
	writePage(w, "Change password", `<h1>Change password</h1>
    <p>Your password must be changed before continuing.</p>
    <form onsubmit="return submitJSON(event, '/auth/change-password', '/home')">
      <input name="new_password" type="password" placeholder="New password" autocomplete="new-password" />
      <button type="submit">Change password</button>
    </form>`)
}

func writePage(w http.ResponseWriter, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>%s</title>
    <style>body{font-family:sans-serif;max-width:28rem;margin:4rem auto;}input,button{display:block;width:100%%;margin:.5rem 0;padding:.5rem;}</style>
  </head>
  <body>
    %s
    <p id="msg"></p>
    <script>
      async function submitJSON(ev, path, next) {
        ev.preventDefault();
        const data = Object.fromEntries(new FormData(ev.target));
        const resp = await fetch(path, {
          method: 'POST',
          headers: {'Content-Type': 'application/json'},
          body: JSON.stringify(data)
        });
        const body = await resp.json();
        if (body.success && next) { window.location = next; return false; }
        document.getElementById('msg').textContent =
          body.success ? (body.data.message || 'Done.') : (body.error.message || 'Request failed.');
        return false;
      }
    </script>
  </body>
</html>`, title, body)
}
