package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oes-events/webhooks/internal/logger"
	"github.com/oes-events/webhooks/internal/mailer"
	"github.com/oes-events/webhooks/internal/sheets"
	"github.com/oes-events/webhooks/internal/template"
)

// maxBodyBytes bounds the size of a webhook body.
const maxBodyBytes = 10 << 20

var errBadBody = errors.New("request body must be a JSON object")

type api struct {
	handlers Handlers
	log      *slog.Logger
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok\n")
}

func (a *api) sendEmail(w http.ResponseWriter, r *http.Request) {
	if a.handlers.Email == nil || !a.handlers.Email.Enabled() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	name := chi.URLParam(r, "*")
	if !validTemplateName(name) {
		a.log.WarnContext(r.Context(), "rejected template name", logger.Template(name))
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := decodeBody(w, r)
	if err != nil {
		a.fail(w, r, err, logger.Template(name))
		return
	}

	if err := a.handlers.Email.Send(r.Context(), name, body); err != nil {
		a.fail(w, r, err, logger.Template(name))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) sendReceipt(w http.ResponseWriter, r *http.Request) {
	if a.handlers.Receipts == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := decodeBody(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.handlers.Receipts.Forward(r.Context(), body); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) appendRow(w http.ResponseWriter, r *http.Request) {
	hookID := chi.URLParam(r, "hookID")
	if a.handlers.Sheets == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := decodeBody(w, r)
	if err != nil {
		a.fail(w, r, err, logger.Hook(hookID))
		return
	}

	if err := a.handlers.Sheets.Append(r.Context(), hookID, body); err != nil {
		a.fail(w, r, err, logger.Hook(hookID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail logs err and writes the status it maps to with an empty body.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error, attrs ...slog.Attr) {
	status := statusFor(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	args := make([]any, 0, len(attrs)+2)
	for _, attr := range attrs {
		args = append(args, attr)
	}
	args = append(args, slog.Int("status", status), logger.Error(err))
	a.log.Log(r.Context(), level, "request failed", args...)

	w.WriteHeader(status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadBody), errors.Is(err, mailer.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, template.ErrTemplateNotFound),
		errors.Is(err, mailer.ErrDisabled),
		errors.Is(err, sheets.ErrHookNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// validTemplateName accepts slash-separated names that stay inside the
// template root.
func validTemplateName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	return path.Clean(name) == name && !strings.HasPrefix(name, "../") && name != ".."
}

// decodeBody reads a JSON object, keeping integers as int64.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadBody, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadBody, err)
	}
	if body == nil {
		return nil, errBadBody
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", errBadBody)
	}

	template.NormalizeJSON(body)
	return body, nil
}
