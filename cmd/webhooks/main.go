// Package main is the entry point for the webhook server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/oes-events/webhooks/internal/config"
	"github.com/oes-events/webhooks/internal/htmlproc"
	"github.com/oes-events/webhooks/internal/logger"
	"github.com/oes-events/webhooks/internal/mailer"
	"github.com/oes-events/webhooks/internal/receipt"
	"github.com/oes-events/webhooks/internal/server"
	"github.com/oes-events/webhooks/internal/sheets"
	"github.com/oes-events/webhooks/internal/template"
	webtls "github.com/oes-events/webhooks/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	bind := flag.String("bind", "", "address to listen on, overrides http.listen")
	debug := flag.Bool("debug", false, "enable debug logging in text format")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", logger.Error(err))
		os.Exit(1)
	}
	if *bind != "" {
		cfg.HTTP.Listen = *bind
	}

	log := setupLogger(cfg.Logging, *debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("webhooks stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	var handlers server.Handlers

	if cfg.EmailEnabled() {
		engine, err := template.New(cfg.Email.TemplatePath)
		if err != nil {
			return err
		}
		defer engine.Close()

		svc := mailer.New(ctx, cfg.Email, engine, htmlproc.New(engine.FS()), mailer.WithLogger(log))
		handlers.Email = svc
		handlers.Receipts = receipt.New(svc, log)
	}

	if cfg.SheetsEnabled() {
		client, err := sheets.New(ctx, cfg.Google, log)
		if err != nil {
			return err
		}
		handlers.Sheets = client
	}

	srvCfg := server.Config{
		Addr:        cfg.HTTP.Listen,
		PrivateOnly: cfg.HTTP.PrivateOnly,
	}
	if cfg.HTTPSEnabled() {
		tlsConfig, err := webtls.ServerConfig(cfg.HTTP.TLS.CertFile, cfg.HTTP.TLS.KeyFile)
		if err != nil {
			return err
		}
		srvCfg.TLSConfig = tlsConfig
	}

	logFeatureSummary(log, cfg)

	return server.New(srvCfg, handlers, log).ListenAndServe(ctx)
}

// setupLogger builds the process logger and installs it as the default.
// -debug forces debug level with human-readable output.
func setupLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := logger.ParseLevel(cfg.Level)
	format := logger.Format(cfg.Format)
	if debug {
		level = slog.LevelDebug
		format = logger.FormatText
	}

	log := logger.New(
		logger.WithLevel(level),
		logger.WithFormat(format),
		logger.WithAttr(slog.String("service", "webhooks")),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	slog.SetDefault(log)
	return log
}

func logFeatureSummary(log *slog.Logger, cfg *config.Config) {
	emailFeature := "not enabled"
	if cfg.EmailEnabled() {
		emailFeature = fmt.Sprintf("enabled, using %s", cfg.Email.Use)
	}

	sheetsFeature := "not enabled"
	if cfg.SheetsEnabled() {
		sheetsFeature = fmt.Sprintf("enabled, %d hooks", len(cfg.Google.SheetsHooks))
	}

	log.Info("feature summary",
		slog.String("email", emailFeature),
		slog.String("sheets", sheetsFeature),
		slog.Bool("https", cfg.HTTPSEnabled()),
	)
}
