package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"dw-console-gateway/internal/app"
	"dw-console-gateway/internal/config"
	"dw-console-gateway/internal/logger"
)

var version = "dev"

var cli struct {
	EnvFile  string           `name:"env-file" help:"Path to the environment file."`
	Listen   string           `name:"listen" help:"Listen address, overrides LISTEN_ADDR."`
	Upstream string           `name:"upstream" help:"Backend base URL, overrides UPSTREAM_URL."`
	Debug    bool             `name:"debug" help:"Enable debug logging."`
	Version  kong.VersionFlag `name:"version" help:"Print version and exit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("dw-console-gateway"),
		kong.Description("Session gateway for the warehouse admin console."),
		kong.Vars{"version": version},
	)

	level := slog.LevelInfo
	if cli.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(logger.New(os.Stdout, level))

	// Flags win over the environment; config.Load reads both.
	if cli.Listen != "" {
		os.Setenv("LISTEN_ADDR", cli.Listen)
	}
	if cli.Upstream != "" {
		os.Setenv("UPSTREAM_URL", cli.Upstream)
	}

	cfg, err := config.Load(cli.EnvFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}
