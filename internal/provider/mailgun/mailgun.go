// Package mailgun implements a Provider that posts MIME messages to the
// Mailgun messages.mime endpoint.
package mailgun

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/oes-events/webhooks/internal/email"
	"github.com/oes-events/webhooks/internal/logger"
	"github.com/oes-events/webhooks/internal/mimemsg"
)

// maxErrorBody bounds how much of an error response is read and logged.
const maxErrorBody = 64 << 10

// Config holds the configuration for creating a Provider.
type Config struct {
	BaseURL string
	Domain  string
	APIKey  string
	Timeout time.Duration
}

// Provider sends emails through the Mailgun HTTP API.
type Provider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// New creates a Provider for the configured domain.
func New(cfg Config, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = cfg.Timeout

	return &Provider{
		endpoint:   fmt.Sprintf("%s/v3/%s/messages.mime", strings.TrimRight(cfg.BaseURL, "/"), url.PathEscape(cfg.Domain)),
		apiKey:     cfg.APIKey,
		httpClient: client,
		log:        log.With(logger.Provider("mailgun")),
	}
}

// Send uploads the serialized message as the "message" file of a
// multipart form, authenticating with HTTP basic auth as user "api".
func (p *Provider) Send(ctx context.Context, msg *mimemsg.Message, _ *email.Email) error {
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	body, contentType, err := buildForm(msg.To(), raw)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth("api", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.log.WarnContext(ctx, "Mailgun request failed", logger.Error(err))
		return fmt.Errorf("%w: mailgun: %w", email.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.log.DebugContext(ctx, "sent via Mailgun", logger.Recipient(msg.To()))
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	p.log.ErrorContext(ctx, "Mailgun returned an error",
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(respBody)),
	)
	return fmt.Errorf("%w: mailgun: HTTP %d", email.ErrDeliveryFailed, resp.StatusCode)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "mailgun"
}

func buildForm(to string, raw []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("to", to); err != nil {
		return nil, "", fmt.Errorf("failed to write form: %w", err)
	}
	fw, err := w.CreateFormFile("message", "message.mime")
	if err != nil {
		return nil, "", fmt.Errorf("failed to write form: %w", err)
	}
	if _, err := fw.Write(raw); err != nil {
		return nil, "", fmt.Errorf("failed to write form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to write form: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}
