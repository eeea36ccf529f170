// Package receipt forwards checkout payloads to the email pipeline as
// order confirmations.
package receipt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oes-events/webhooks/internal/logger"
)

const (
	// Template is the email template used for receipts.
	Template = "receipt"
	// Subject is the default subject of a receipt.
	Subject = "Order Confirmation"
)

// Sender sends a template email. It is satisfied by *mailer.Service.
type Sender interface {
	Send(ctx context.Context, name string, body map[string]any) error
}

// Forwarder turns checkout payloads into receipt emails.
type Forwarder struct {
	sender Sender
	log    *slog.Logger
}

// New creates a Forwarder that sends through sender.
func New(sender Sender, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{
		sender: sender,
		log:    log.With(logger.Component("receipt")),
	}
}

// Forward sends a receipt for the checkout in body. Nothing is sent when
// no recipient can be found or the line items total zero.
func (f *Forwarder) Forward(ctx context.Context, body map[string]any) error {
	cart, _ := body["cart_data"].(map[string]any)

	to := Email(cart)
	total := Total(cart)
	if to == "" || total == 0 {
		f.log.DebugContext(ctx, "skipping receipt",
			slog.Bool("has_email", to != ""),
			slog.Float64("total", total),
		)
		return nil
	}

	err := f.sender.Send(ctx, Template, map[string]any{
		"to":       to,
		"subject":  Subject,
		"checkout": body,
	})
	if err != nil {
		return fmt.Errorf("failed to send receipt: %w", err)
	}
	return nil
}

// Email returns the cart's meta email, or else the first email found in
// the registrations' new data.
func Email(cart map[string]any) string {
	if meta, ok := cart["meta"].(map[string]any); ok {
		if e, ok := meta["email"].(string); ok && e != "" {
			return e
		}
	}

	for _, reg := range list(cart["registrations"]) {
		data, _ := reg["new_data"].(map[string]any)
		if e, ok := data["email"].(string); ok && e != "" {
			return e
		}
	}
	return ""
}

// Total sums the prices of every line item, ignoring modifiers.
func Total(cart map[string]any) float64 {
	var total float64
	for _, reg := range list(cart["registrations"]) {
		for _, item := range list(reg["line_items"]) {
			total += number(item["price"])
		}
	}
	return total
}

func list(v any) []map[string]any {
	items, _ := v.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func number(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
