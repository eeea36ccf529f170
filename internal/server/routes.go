package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// EmailSender composes and sends template emails.
type EmailSender interface {
	Enabled() bool
	Send(ctx context.Context, name string, body map[string]any) error
}

// ReceiptForwarder sends checkout receipts.
type ReceiptForwarder interface {
	Forward(ctx context.Context, body map[string]any) error
}

// SheetsAppender appends spreadsheet rows for configured hooks.
type SheetsAppender interface {
	Append(ctx context.Context, hookID string, data map[string]any) error
}

// Handlers are the features served by the router. A nil field disables
// the matching routes, which then answer 404.
type Handlers struct {
	Email    EmailSender
	Receipts ReceiptForwarder
	Sheets   SheetsAppender
}

func newRouter(h Handlers, privateOnly bool, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	if privateOnly {
		r.Use(privateNetworksOnly(log))
	}

	api := &api{handlers: h, log: log}

	r.Get("/healthz", api.health)
	r.Post("/email/*", api.sendEmail)
	r.Post("/receipt", api.sendReceipt)
	r.Post("/sheets/{hookID}", api.appendRow)

	return r
}

// requestLogger logs one line per request at debug level, and at warn for
// server errors.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
