// Package mailer turns a webhook body into a delivered email: it validates
// the addressing fields, renders the named template, assembles the MIME
// message and hands it to the configured provider.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"sync"
	"time"

	"github.com/oes-events/webhooks/internal/config"
	"github.com/oes-events/webhooks/internal/email"
	"github.com/oes-events/webhooks/internal/logger"
	"github.com/oes-events/webhooks/internal/mimemsg"
	"github.com/oes-events/webhooks/internal/provider"
	"github.com/oes-events/webhooks/internal/template"
)

// Service composes and sends template emails. It is safe for concurrent use.
type Service struct {
	engine  *template.Engine
	proc    template.HTMLProcessor
	from    string
	enabled bool

	// provider resolves the transport once, on first use.
	provider func() (provider.Provider, error)
	now      func() time.Time
	log      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithProvider uses p instead of the transport selected by the config.
func WithProvider(p provider.Provider) Option {
	return func(s *Service) {
		s.provider = func() (provider.Provider, error) { return p, nil }
	}
}

// WithClock overrides the time used for the Date header.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// New creates a Service. The provider named by cfg.Use is constructed on
// the first Send, and a construction error is returned by every Send.
func New(ctx context.Context, cfg config.EmailConfig, engine *template.Engine, proc template.HTMLProcessor, opts ...Option) *Service {
	s := &Service{
		engine:  engine,
		proc:    proc,
		from:    cfg.From,
		enabled: cfg.Use != "",
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("mailer"))

	if s.provider == nil {
		log := s.log
		s.provider = sync.OnceValues(func() (provider.Provider, error) {
			return provider.New(context.WithoutCancel(ctx), cfg, log)
		})
	}
	return s
}

// Enabled reports whether a transport is selected.
func (s *Service) Enabled() bool {
	return s.enabled
}

// request holds the addressing fields of a webhook body.
type request struct {
	to      string
	from    string
	subject string
}

// Send renders the template called name with body as its data and
// delivers the result. The transport is resolved before any template is
// read, so a misconfigured transport fails without touching the disk.
func (s *Service) Send(ctx context.Context, name string, body map[string]any) error {
	if !s.enabled {
		return ErrDisabled
	}

	p, err := s.provider()
	if err != nil {
		return err
	}

	req, err := s.parseRequest(body)
	if err != nil {
		return err
	}

	caps := s.engine.NewCapabilities(req.subject)
	text, html, err := template.RenderMessage(ctx, s.engine, s.proc, caps, name, body)
	if err != nil {
		return err
	}

	e := &email.Email{
		To:          req.to,
		From:        req.from,
		Subject:     caps.Subject.String(),
		Text:        text,
		Attachments: caps.Attachments.All(),
	}
	if html != nil {
		e.HTML = *html
	}

	msg, err := mimemsg.Assemble(e)
	if err != nil {
		return err
	}
	msg.StampOnWrite(s.now)

	if err := p.Send(ctx, msg, e); err != nil {
		s.log.ErrorContext(ctx, "failed to send message",
			logger.Template(name),
			logger.Recipient(req.to),
			logger.Provider(p.Name()),
			logger.Error(err),
		)
		return err
	}

	s.log.InfoContext(ctx, "sent message",
		logger.Template(name),
		logger.Recipient(req.to),
		logger.Provider(p.Name()),
		slog.Int("attachments", len(e.Attachments)),
	)
	return nil
}

// parseRequest extracts to, from and subject. from falls back to the
// configured default sender.
func (s *Service) parseRequest(body map[string]any) (request, error) {
	var req request

	to, err := stringField(body, "to", true)
	if err != nil {
		return req, err
	}
	from, err := stringField(body, "from", false)
	if err != nil {
		return req, err
	}
	subject, err := stringField(body, "subject", false)
	if err != nil {
		return req, err
	}

	if from == "" {
		from = s.from
	}
	if from == "" {
		return req, fmt.Errorf("%w: no from address and no default is configured", ErrValidation)
	}

	if _, err := mail.ParseAddress(to); err != nil {
		return req, fmt.Errorf("%w: to: %w", ErrValidation, err)
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return req, fmt.Errorf("%w: from: %w", ErrValidation, err)
	}

	req.to, req.from, req.subject = to, from, subject
	return req, nil
}

func stringField(body map[string]any, key string, required bool) (string, error) {
	v, ok := body[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%w: %s is required", ErrValidation, key)
		}
		return "", nil
	}

	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrValidation, key)
	}
	if required && str == "" {
		return "", fmt.Errorf("%w: %s is required", ErrValidation, key)
	}
	return str, nil
}
