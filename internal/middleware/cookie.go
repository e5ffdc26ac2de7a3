package middleware

import (
	"net/http"
	"time"
)

// CookieMirror is the single place the token cookie is written or cleared,
// so no call site can leave the cookie and the durable store diverged.
type CookieMirror struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

func NewCookieMirror(name string, ttl time.Duration, secure bool) *CookieMirror {
	if name == "" {
		name = "token"
	}
	return &CookieMirror{Name: name, TTL: ttl, Secure: secure}
}

func (c *CookieMirror) Write(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.TTL.Seconds()),
		Secure:   c.Secure,
		HttpOnly: false, // the console's scripts read it, matching the original
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *CookieMirror) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Matches reports whether the request already carries the given token.
func (c *CookieMirror) Matches(r *http.Request, token string) bool {
	cookie, err := r.Cookie(c.Name)
	return err == nil && cookie.Value == token
}

// Present reports whether the request carries any token cookie.
func (c *CookieMirror) Present(r *http.Request) bool {
	_, err := r.Cookie(c.Name)
	return err == nil
}
