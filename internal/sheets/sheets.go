// Package sheets appends rows computed from webhook bodies to Google
// Sheets spreadsheets.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/oes-events/webhooks/internal/config"
	"github.com/oes-events/webhooks/internal/logger"
	"github.com/oes-events/webhooks/internal/template"
)

// ErrHookNotFound is returned for a hook ID that is not configured.
var ErrHookNotFound = errors.New("sheets hook not found")

// valueInputOption makes Sheets parse cells as if typed by a user.
const valueInputOption = "USER_ENTERED"

type hook struct {
	id      string
	sheetID string
	rng     string
	values  []*template.Expression
}

// Client appends rows for the configured hooks. Appends are serialized.
type Client struct {
	service *sheets.Service
	hooks   map[string]*hook
	log     *slog.Logger

	mu sync.Mutex
}

// New creates a Client authenticated with the service account file.
func New(ctx context.Context, cfg config.GoogleConfig, log *slog.Logger) (*Client, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.ServiceAccountFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SheetsHooks, log)
}

// NewWithService creates a Client on an existing service. Every hook value
// is compiled up front.
func NewWithService(svc *sheets.Service, hooks []config.SheetsHook, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		service: svc,
		hooks:   make(map[string]*hook, len(hooks)),
		log:     log.With(logger.Component("sheets")),
	}

	for _, h := range hooks {
		compiled := &hook{id: h.ID, sheetID: h.SheetID, rng: h.Range}
		for _, v := range h.Values {
			x, err := template.CompileExpression(v)
			if err != nil {
				return nil, fmt.Errorf("sheets hook %s: %w", h.ID, err)
			}
			compiled.values = append(compiled.values, x)
		}
		c.hooks[h.ID] = compiled
	}
	return c, nil
}

// Append evaluates the hook's values against data and appends them as
// one row.
func (c *Client) Append(ctx context.Context, hookID string, data map[string]any) error {
	h, ok := c.hooks[hookID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrHookNotFound, hookID)
	}

	row := make([]any, 0, len(h.values))
	for _, x := range h.values {
		v, err := x.Eval(data)
		if err != nil {
			return err
		}
		row = append(row, v)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.service.Spreadsheets.Values.
		Append(h.sheetID, h.rng, &sheets.ValueRange{Values: [][]any{row}}).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		c.log.ErrorContext(ctx, "failed to append row",
			logger.Hook(hookID),
			slog.String("sheet_id", h.sheetID),
			logger.Error(err),
		)
		return fmt.Errorf("failed to append to sheet %s: %w", h.sheetID, err)
	}

	c.log.DebugContext(ctx, "appended row",
		logger.Hook(hookID),
		slog.String("sheet_id", h.sheetID),
		slog.Int("columns", len(row)),
	)
	return nil
}
