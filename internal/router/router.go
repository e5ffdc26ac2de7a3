package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dw-console-gateway/internal/config"
	"dw-console-gateway/internal/handler"
	"dw-console-gateway/internal/middleware"
	"dw-console-gateway/internal/websocket"
)

func New(
	cfg *config.Config,
	guard *middleware.Guard,
	authHandler *handler.AuthHandler,
	sessionHandler *handler.SessionHandler,
	licenseHandler *handler.LicenseHandler,
	proxyHandler *handler.ProxyHandler,
	pageHandler *handler.PageHandler,
	hub *websocket.Hub,
) http.Handler {
	r := chi.NewRouter()
	rateLimit := middleware.NewRateLimit(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimit.Handler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// The snapshot is pollable in every phase; the UI uses it to decide
	// between the loading screen, the login page, and the console.
	r.With(middleware.Timeout(cfg.RequestTimeout)).Get("/session", sessionHandler.Get)

	// Everything below runs through the guard: it holds requests during
	// boot, funnels anonymous traffic to login, and converges the cookie.
	r.Group(func(g chi.Router) {
		g.Use(guard.Handler)

		g.Route("/auth", func(auth chi.Router) {
			auth.Use(middleware.Timeout(cfg.RequestTimeout))

			auth.Get("/login", pageHandler.Login)
			auth.Post("/login", authHandler.Login)
			auth.Get("/logout", authHandler.LogoutPage)
			auth.Post("/logout", authHandler.Logout)
			auth.Get("/forgot-password", pageHandler.ForgotPassword)
			auth.Post("/forgot-password", authHandler.ForgotPassword)
			auth.Get("/reset-password", pageHandler.ResetPassword)
			auth.Post("/reset-password", authHandler.ResetPassword)
			auth.Get("/change-password", pageHandler.ChangePassword)
			auth.Post("/change-password", authHandler.ChangePassword)
		})

		g.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/home", http.StatusFound)
		})
		g.Get("/home", pageHandler.Home)

		g.With(middleware.Timeout(cfg.RequestTimeout)).Put("/session/profile", sessionHandler.UpdateProfile)

		g.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})

		g.Route("/api", func(api chi.Router) {
			api.With(middleware.Timeout(cfg.RequestTimeout)).Get("/license/status", licenseHandler.Status)
			api.With(middleware.Timeout(cfg.RequestTimeout)).Post("/admin/license/activate", licenseHandler.Activate)
			api.With(middleware.Timeout(cfg.RequestTimeout)).Post("/admin/license/deactivate", licenseHandler.Deactivate)

			// Catch-all to the warehouse backend. Job-log endpoints stream,
			// so a flat deadline would cut them off; the idle timeout covers
			// stalled connections instead.
			api.With(middleware.StreamingTimeout(cfg.ProxyMaxDuration, cfg.ProxyIdleTimeout)).
				Handle("/*", proxyHandler)
		})
	})

	return r
}
