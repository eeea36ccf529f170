// Package graph implements a Provider that sends MIME messages via the
// Microsoft Graph sendMail endpoint.
package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oes-events/webhooks/internal/email"
	"github.com/oes-events/webhooks/internal/logger"
	"github.com/oes-events/webhooks/internal/mimemsg"
)

const (
	graphBaseURL = "https://graph.microsoft.com/v1.0"
	graphScope   = "https://graph.microsoft.com/.default"
	// maxErrorBody bounds how much of an error response is read and logged.
	maxErrorBody = 64 << 10
)

// Config holds the configuration for creating a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
	Timeout      time.Duration
}

// apiError is the error envelope returned by Graph.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Provider sends emails via the Microsoft Graph API using OAuth2 client
// credentials. Tokens are cached and refreshed by the oauth2 transport.
type Provider struct {
	sendURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// New creates a Provider for the configured tenant.
func New(cfg Config, log *slog.Logger) *Provider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	sendURL := fmt.Sprintf("%s/users/%s/sendMail", graphBaseURL, url.PathEscape(cfg.Sender))
	return newWithOverrides(cfg, sendURL, tokenURL, log)
}

// newWithOverrides creates a Provider with custom URLs, used for testing.
func newWithOverrides(cfg Config, sendURL, tokenURL string, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	base := cleanhttp.DefaultPooledClient()
	base.Timeout = cfg.Timeout
	client := creds.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
	client.Timeout = cfg.Timeout

	return &Provider{
		sendURL:    sendURL,
		httpClient: client,
		log:        log.With(logger.Provider("graph")),
	}
}

// Send posts the base64-encoded MIME message to sendMail. The From header
// must match the configured sender mailbox or Graph rejects the message.
func (p *Provider) Send(ctx context.Context, msg *mimemsg.Message, _ *email.Email) error {
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	body := base64.StdEncoding.EncodeToString(raw)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendURL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.log.WarnContext(ctx, "Graph API request failed", logger.Error(err))
		return fmt.Errorf("%w: graph: %w", email.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		p.log.DebugContext(ctx, "sent via Graph", logger.Recipient(msg.To()))
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := string(respBody)

	var apiErr apiError
	if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Code + ": " + apiErr.Error.Message
	}

	p.log.WarnContext(ctx, "Graph API error",
		slog.Int("status", resp.StatusCode),
		slog.String("body", message),
	)
	return fmt.Errorf("%w: graph: HTTP %d: %s", email.ErrDeliveryFailed, resp.StatusCode, message)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "graph"
}
