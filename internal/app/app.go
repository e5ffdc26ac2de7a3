package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dw-console-gateway/internal/config"
	"dw-console-gateway/internal/database"
	"dw-console-gateway/internal/event"
	"dw-console-gateway/internal/handler"
	"dw-console-gateway/internal/middleware"
	"dw-console-gateway/internal/router"
	"dw-console-gateway/internal/session"
	"dw-console-gateway/internal/store"
	"dw-console-gateway/internal/upstream"
	"dw-console-gateway/internal/websocket"
)

type App struct {
	server       *http.Server
	db           *database.DB
	cleanupFuncs []func()
}

func New(cfg *config.Config) (*App, error) {
	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	var (
		db       *database.DB
		sessions store.SessionStore
	)
	if cfg.DatabaseURL != "" {
		slog.Info("connecting to PostgreSQL session store")
		db, err = database.Connect(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		sessions, err = store.NewPostgresStore(context.Background(), db.Pool)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to prepare session table: %w", err)
		}
		slog.Info("database ready")
	} else {
		sessions, err = store.NewFileStore(cfg.SessionFile, cfg.SessionStateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize session file store: %w", err)
		}
	}

	client := upstream.NewClient(cfg.UpstreamURL, cfg.UpstreamTimeout)

	bus := event.NewBus()
	hub := websocket.NewHub(bus)

	manager := session.NewManager(client, sessions, bus, session.Options{
		VerifyMaxTries:      cfg.VerifyMaxTries,
		VerifyRetryInterval: cfg.VerifyRetryInterval,
		LicensePollInterval: cfg.LicensePollInterval,
		IdleTimeout:         cfg.IdleTimeout,
	})

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	go hub.Run(backgroundCtx)
	go manager.Run(backgroundCtx)
	// Boot restoration runs off the request path; the guard holds traffic
	// until it resolves.
	go manager.Initialize(backgroundCtx)

	cookies := middleware.NewCookieMirror(cfg.CookieName, cfg.CookieTTL, cfg.CookieSecure)
	guard := middleware.NewGuard(manager, cookies)

	authHandler := handler.NewAuthHandler(manager, cookies)
	sessionHandler := handler.NewSessionHandler(manager)
	licenseHandler := handler.NewLicenseHandler(manager, client)
	proxyHandler := handler.NewProxyHandler(target, manager)
	pageHandler := handler.NewPageHandler(manager)

	appRouter := router.New(cfg, guard, authHandler, sessionHandler, licenseHandler, proxyHandler, pageHandler, hub)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	cleanup := []func(){backgroundCancel}
	if db != nil {
		cleanup = append(cleanup, db.Close)
	}

	return &App{server: server, db: db, cleanupFuncs: cleanup}, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("gateway starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	slog.Info("gateway stopped")
	return nil
}
