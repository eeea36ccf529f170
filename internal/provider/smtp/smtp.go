// Package smtp implements a Provider that relays messages through an SMTP
// server. A new connection is opened for every message.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"golang.org/x/sync/semaphore"

	"github.com/oes-events/webhooks/internal/email"
	"github.com/oes-events/webhooks/internal/logger"
	"github.com/oes-events/webhooks/internal/mimemsg"
	tlsutil "github.com/oes-events/webhooks/internal/tls"
)

// TLS modes.
const (
	ModeNone     = "none"
	ModeSSL      = "ssl"
	ModeStartTLS = "starttls"
)

// relay admits one SMTP transaction at a time across the process.
var relay = semaphore.NewWeighted(1)

// Config holds the configuration for creating a Provider.
type Config struct {
	Server             string
	Port               int
	TLS                string
	Username           string
	Password           string
	CAFile             string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Provider sends emails through an SMTP relay.
type Provider struct {
	addr      string
	mode      string
	username  string
	password  string
	tlsConfig *tls.Config
	timeout   time.Duration
	log       *slog.Logger
}

// New creates a Provider. The TLS configuration is built eagerly so a bad
// CA file is reported at startup.
func New(cfg Config, log *slog.Logger) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}

	mode := cfg.TLS
	if mode == "" {
		mode = ModeStartTLS
	}

	p := &Provider{
		addr:     net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port)),
		mode:     mode,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  cfg.Timeout,
		log:      log.With(logger.Provider("smtp")),
	}

	switch mode {
	case ModeNone:
	case ModeSSL, ModeStartTLS:
		tlsConfig, err := tlsutil.ClientConfig(cfg.Server, cfg.CAFile, cfg.InsecureSkipVerify)
		if err != nil {
			return nil, err
		}
		p.tlsConfig = tlsConfig
	default:
		return nil, fmt.Errorf("unsupported SMTP TLS mode %q", mode)
	}

	return p, nil
}

// Send waits for the relay permit, serializes msg, then connects, authenticates when a
// username is configured, submits the message and quits.
func (p *Provider) Send(ctx context.Context, msg *mimemsg.Message, _ *email.Email) error {
	if err := relay.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: smtp: %w", email.ErrDeliveryFailed, err)
	}
	defer relay.Release(1)

	raw, err := msg.Bytes()
	if err != nil {
		return err
	}

	if err := p.deliver(ctx, msg.From(), msg.To(), raw); err != nil {
		p.log.WarnContext(ctx, "SMTP delivery failed",
			slog.String("server", p.addr),
			logger.Error(err),
		)
		return fmt.Errorf("%w: smtp: %w", email.ErrDeliveryFailed, err)
	}

	p.log.DebugContext(ctx, "sent via SMTP",
		slog.String("server", p.addr),
		logger.Recipient(msg.To()),
	)
	return nil
}

func (p *Provider) deliver(ctx context.Context, from, to string, raw []byte) error {
	c, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	// Abort a stalled conversation when the request goes away.
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if p.timeout > 0 {
		c.CommandTimeout = p.timeout
		c.SubmissionTimeout = p.timeout
	}

	if p.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", p.username, p.password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.SendMail(from, []string{to}, bytes.NewReader(raw)); err != nil {
		return err
	}
	return c.Quit()
}

func (p *Provider) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: p.timeout}

	var (
		conn net.Conn
		err  error
	)
	if p.mode == ModeSSL {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: p.tlsConfig}).DialContext(ctx, "tcp", p.addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.addr)
	}
	if err != nil {
		return nil, err
	}

	if p.mode == ModeStartTLS {
		c, err := smtp.NewClientStartTLS(conn, p.tlsConfig)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return c, nil
	}
	return smtp.NewClient(conn), nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}
