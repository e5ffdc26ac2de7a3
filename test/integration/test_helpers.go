//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"dw-console-gateway/internal/config"
	"dw-console-gateway/internal/event"
	"dw-console-gateway/internal/handler"
	"dw-console-gateway/internal/middleware"
	"dw-console-gateway/internal/router"
	"dw-console-gateway/internal/session"
	"dw-console-gateway/internal/store"
	"dw-console-gateway/internal/upstream"
	"dw-console-gateway/internal/websocket"
)

// fakeWarehouse stands in for the backend API: login, token verification,
// license status, and one representative data endpoint behind bearer auth.
type fakeWarehouse struct {
	mu           sync.Mutex
	token        string
	licenseValid bool
	apiCalls     int
}

func newFakeWarehouse(t *testing.T) (*httptest.Server, *fakeWarehouse) {
	t.Helper()

	w := &fakeWarehouse{licenseValid: true}

	signed := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token, err := signed.SignedString([]byte("warehouse-secret"))
	require.NoError(t, err)
	w.token = token

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(rw http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["username"] != "alice" || req["password"] != "s3cret" {
			rw.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(rw).Encode(map[string]string{"error": "Invalid credentials"})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{
			"token":    w.currentToken(),
			"user_id":  1,
			"username": "alice",
			"email":    "alice@example.com",
			"role":     "admin",
		})
	})
	mux.HandleFunc("GET /auth/verify-token", func(rw http.ResponseWriter, r *http.Request) {
		valid := r.Header.Get("Authorization") == "Bearer "+w.currentToken()
		_ = json.NewEncoder(rw).Encode(map[string]bool{"valid": valid})
	})
	mux.HandleFunc("GET /api/license/status", func(rw http.ResponseWriter, _ *http.Request) {
		w.mu.Lock()
		valid := w.licenseValid
		w.mu.Unlock()
		_ = json.NewEncoder(rw).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"valid": valid, "message": "Licensed"},
		})
	})
	mux.HandleFunc("GET /api/tables", func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		w.apiCalls++
		w.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+w.currentToken() {
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"tables": []string{"orders", "events"}})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, w
}

func (w *fakeWarehouse) currentToken() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.token
}

func (w *fakeWarehouse) apiCallCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.apiCalls
}

func (w *fakeWarehouse) rotateToken(token string) {
	w.mu.Lock()
	w.token = token
	w.mu.Unlock()
}

func newGateway(t *testing.T, backendURL string) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		ListenAddr:          ":0",
		RequestTimeout:      10 * time.Second,
		UpstreamURL:         backendURL,
		UpstreamTimeout:     5 * time.Second,
		SessionFile:         filepath.Join(t.TempDir(), "session.json"),
		CookieName:          "token",
		CookieTTL:           168 * time.Hour,
		CORSOrigins:         []string{"*"},
		RateLimitRPM:        1000,
		AuthRateLimitRPM:    1000,
		VerifyMaxTries:      2,
		VerifyRetryInterval: 10 * time.Millisecond,
		ProxyMaxDuration:    time.Minute,
		ProxyIdleTimeout:    10 * time.Second,
	}

	sessions, err := store.NewFileStore(cfg.SessionFile, nil)
	require.NoError(t, err)

	client := upstream.NewClient(cfg.UpstreamURL, cfg.UpstreamTimeout)
	bus := event.NewBus()
	hub := websocket.NewHub(bus)
	manager := session.NewManager(client, sessions, bus, session.Options{
		VerifyMaxTries:      cfg.VerifyMaxTries,
		VerifyRetryInterval: cfg.VerifyRetryInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	manager.Initialize(ctx)

	target, err := url.Parse(cfg.UpstreamURL)
	require.NoError(t, err)

	cookies := middleware.NewCookieMirror(cfg.CookieName, cfg.CookieTTL, cfg.CookieSecure)
	guard := middleware.NewGuard(manager, cookies)

	h := router.New(cfg, guard,
		handler.NewAuthHandler(manager, cookies),
		handler.NewSessionHandler(manager),
		handler.NewLicenseHandler(manager, client),
		handler.NewProxyHandler(target, manager),
		handler.NewPageHandler(manager),
		hub,
	)

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return server
}

// newBrowser returns a client with a cookie jar that does not follow
// redirects, so tests can assert on Location headers directly.
func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
