package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"widget-studio/internal/policy"
	"widget-studio/internal/store"
	"widget-studio/internal/web"
	"widget-studio/internal/workspace"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("widget-studio starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt, mqttWebOpts := initMQTT(cfg, logger)

	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithPreview(cfg.Editor.Preview, cfg.scriptTimeout(logger)),
		web.WithCommitDelay(cfg.commitDelay(logger)),
		web.WithDefaultAuthority(policy.ParseAuthority(cfg.Web.DefaultAuthority)),
	}
	if cfg.Web.APIKey == "" && cfg.Web.DefaultAuthority != "" {
		logger.Warn("web.default_authority applies to every caller without an API key", "authority", cfg.Web.DefaultAuthority)
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	if cfg.Workspace.Dir != "" {
		mgr, err := workspace.NewManager(cfg.Workspace.Dir)
		if err != nil {
			logger.Error("open workspace", "err", err)
			os.Exit(1)
		}
		webOpts = append(webOpts, web.WithWorkspace(mgr))
		logger.Info("workspace surfaces enabled", "dir", mgr.Dir())
	}
	webOpts = append(webOpts, mqttWebOpts...)

	webServer, err := web.NewServer(db, logger, webOpts...)
	if err != nil {
		logger.Error("create web server", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen, "preview", cfg.Editor.Preview)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	mqtt.Stop()

	logger.Info("goodbye")
}
