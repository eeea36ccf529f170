// Package postmark implements a Provider backed by the Postmark API.
package postmark

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/mrz1836/postmark"

	"github.com/oes-events/webhooks/internal/email"
	"github.com/oes-events/webhooks/internal/logger"
	"github.com/oes-events/webhooks/internal/mimemsg"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	ServerToken   string
	AccountToken  string
	MessageStream string
}

// EmailAPI is the subset of the Postmark client used by the Provider.
type EmailAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// Provider sends emails through Postmark's JSON API. Postmark builds its
// own MIME document, so the structured email is used instead of the
// assembled message.
type Provider struct {
	client EmailAPI
	stream string
	log    *slog.Logger
}

// New creates a Provider using the given tokens.
func New(cfg Config, log *slog.Logger) *Provider {
	return NewWithClient(postmark.NewClient(cfg.ServerToken, cfg.AccountToken), cfg.MessageStream, log)
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(client EmailAPI, stream string, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		client: client,
		stream: stream,
		log:    log.With(logger.Provider("postmark")),
	}
}

// Send maps e onto a Postmark email. Inline attachments keep their
// Content-ID so cid: references in the HTML body resolve.
func (p *Provider) Send(ctx context.Context, msg *mimemsg.Message, e *email.Email) error {
	pm := postmark.Email{
		From:          e.From,
		To:            msg.To(),
		Subject:       e.Subject,
		TextBody:      e.Text,
		HTMLBody:      e.HTML,
		MessageStream: p.stream,
	}
	if id := msg.Header().Get("Message-ID"); id != "" {
		pm.Headers = []postmark.Header{{Name: "Message-ID", Value: id}}
	}

	for i := range e.Attachments {
		att := &e.Attachments[i]
		if att.Disposition == email.DispositionInline && !e.HasHTML() {
			continue
		}
		data, err := att.Content()
		if err != nil {
			return err
		}
		mediaType := att.MediaType
		if mediaType == "" {
			mediaType = email.DefaultMediaType
		}
		pa := postmark.Attachment{
			Name:        att.Name,
			Content:     base64.StdEncoding.EncodeToString(data),
			ContentType: mediaType,
		}
		// Postmark embeds any attachment that carries a ContentID.
		if att.Disposition == email.DispositionInline {
			pa.ContentID = "cid:" + att.ID
		}
		pm.Attachments = append(pm.Attachments, pa)
	}

	resp, err := p.client.SendEmail(ctx, pm)
	if err != nil {
		p.log.WarnContext(ctx, "Postmark request failed", logger.Error(err))
		return fmt.Errorf("%w: postmark: %w", email.ErrDeliveryFailed, err)
	}
	if resp.ErrorCode > 0 {
		p.log.WarnContext(ctx, "Postmark rejected message",
			slog.Any("error_code", resp.ErrorCode),
			slog.String("message", resp.Message),
		)
		return fmt.Errorf("%w: postmark error: %d - %s", email.ErrDeliveryFailed, resp.ErrorCode, resp.Message)
	}

	p.log.DebugContext(ctx, "sent via Postmark",
		logger.Recipient(msg.To()),
		slog.String("message_id", resp.MessageID),
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "postmark"
}
