// Package provider defines the interface for email delivery backends and
// selects the configured one.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oes-events/webhooks/internal/config"
	"github.com/oes-events/webhooks/internal/email"
	"github.com/oes-events/webhooks/internal/mimemsg"
	"github.com/oes-events/webhooks/internal/provider/graph"
	"github.com/oes-events/webhooks/internal/provider/mailgun"
	"github.com/oes-events/webhooks/internal/provider/mock"
	"github.com/oes-events/webhooks/internal/provider/postmark"
	"github.com/oes-events/webhooks/internal/provider/ses"
	"github.com/oes-events/webhooks/internal/provider/smtp"
)

var (
	// ErrNotConfigured is returned when the selected transport lacks
	// required settings.
	ErrNotConfigured = errors.New("email provider is not configured")

	// ErrUnknownProvider is returned for a transport name New does not know.
	ErrUnknownProvider = errors.New("unknown email provider")
)

// Provider is the interface that email delivery backends must implement.
// msg is the assembled MIME document; API transports that build their own
// document read the structured email instead.
type Provider interface {
	// Send delivers one message. Failures wrap email.ErrDeliveryFailed.
	Send(ctx context.Context, msg *mimemsg.Message, e *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}

// New creates the provider selected by cfg.Use.
func New(ctx context.Context, cfg config.EmailConfig, log *slog.Logger) (Provider, error) {
	if log == nil {
		log = slog.Default()
	}

	switch cfg.Use {
	case "mock":
		return mock.New(log), nil

	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, fmt.Errorf("%w: smtp requires email.smtp.server", ErrNotConfigured)
		}
		p, err := smtp.New(smtp.Config{
			Server:             cfg.SMTP.Server,
			Port:               cfg.SMTP.Port,
			TLS:                cfg.SMTP.TLS,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password.String(),
			CAFile:             cfg.SMTP.CAFile,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			Timeout:            cfg.Timeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return p, nil

	case "mailgun":
		if !cfg.MailgunConfigured() {
			return nil, fmt.Errorf("%w: mailgun requires email.mailgun.domain and api_key", ErrNotConfigured)
		}
		return mailgun.New(mailgun.Config{
			BaseURL: cfg.Mailgun.BaseURL,
			Domain:  cfg.Mailgun.Domain,
			APIKey:  cfg.Mailgun.APIKey.String(),
			Timeout: cfg.Timeout,
		}, log), nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("%w: ses requires email.ses.region", ErrNotConfigured)
		}
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey.String(),
		}, log)
		if err != nil {
			return nil, err
		}
		return p, nil

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, fmt.Errorf("%w: graph requires tenant_id, client_id, client_secret and sender", ErrNotConfigured)
		}
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret.String(),
			Sender:       cfg.Graph.Sender,
			Timeout:      cfg.Timeout,
		}, log), nil

	case "postmark":
		if !cfg.PostmarkConfigured() {
			return nil, fmt.Errorf("%w: postmark requires email.postmark.server_token", ErrNotConfigured)
		}
		return postmark.New(postmark.Config{
			ServerToken:   cfg.Postmark.ServerToken.String(),
			AccountToken:  cfg.Postmark.AccountToken.String(),
			MessageStream: cfg.Postmark.MessageStream,
		}, log), nil

	case "":
		return nil, fmt.Errorf("%w: email.use is empty", ErrNotConfigured)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Use)
	}
}
