package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"dw-console-gateway/internal/session"
	"dw-console-gateway/pkg/apierror"
)

// ProxyHandler forwards /api/* traffic to the warehouse backend with the
// session token injected as a Bearer header. The browser never holds or
// sends the token itself on API calls; the gateway owns it.
type ProxyHandler struct {
	proxy    *httputil.ReverseProxy
	sessions *session.Manager
}

func NewProxyHandler(target *url.URL, sessions *session.Manager) *ProxyHandler {
	h := &ProxyHandler{sessions: sessions}

	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
			if token := sessions.Token(); token != "" {
				pr.Out.Header.Set("Authorization", "Bearer "+token)
			}
		},
		ModifyResponse: h.checkAuth,
		ErrorHandler:   h.proxyError,
	}
	return h
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.proxy.ServeHTTP(w, r)
}

// checkAuth watches for the backend rejecting the token. A 401 from any
// proxied call funnels into the same expiration path a failed boot
// verification uses, so the session never outlives backend acceptance.
func (h *ProxyHandler) checkAuth(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized && h.sessions.Token() != "" {
		slog.Warn("backend rejected session token, clearing session")
		h.sessions.HandleTokenExpiration(context.WithoutCancel(resp.Request.Context()))
	}
	return nil
}

func (h *ProxyHandler) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("proxy request failed", "path", r.URL.Path, "error", err)
	writeError(w, apierror.New("UPSTREAM_UNAVAILABLE", "unable to reach the server", "", http.StatusBadGateway))
}
