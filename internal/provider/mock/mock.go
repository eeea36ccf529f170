// Package mock implements a Provider that logs messages instead of sending them.
package mock

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/oes-events/webhooks/internal/email"
	"github.com/oes-events/webhooks/internal/logger"
	"github.com/oes-events/webhooks/internal/mimemsg"
	"github.com/oes-events/webhooks/internal/parser"
)

// Provider logs a readable summary of every message. A recording provider
// also keeps the parsed messages for inspection.
type Provider struct {
	log *slog.Logger
	// writer, when set, receives the summary in addition to the log.
	writer io.Writer
	record bool

	mu   sync.Mutex
	sent []*parser.Message
}

// New creates a mock Provider that logs through log.
func New(log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{log: log.With(logger.Provider("mock"))}
}

// NewWithWriter creates a mock Provider that also writes summaries to w.
func NewWithWriter(log *slog.Logger, w io.Writer) *Provider {
	p := New(log)
	p.writer = w
	return p
}

// NewRecorder creates a mock Provider that retains every parsed message.
// Memory grows with each send, so it is meant for tests.
func NewRecorder(log *slog.Logger) *Provider {
	p := New(log)
	p.record = true
	return p
}

// Send parses msg back into a tree and logs it. It only fails when the
// message cannot be serialized.
func (p *Provider) Send(ctx context.Context, msg *mimemsg.Message, _ *email.Email) error {
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	parsed, err := parser.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}

	p.log.InfoContext(ctx, "mock email",
		logger.Recipient(msg.To()),
		slog.String("subject", parsed.Subject),
		slog.Int("attachments", len(parsed.Attachments())),
	)
	p.log.DebugContext(ctx, "mock email content", slog.String("raw", string(raw)))

	if p.writer != nil {
		if _, err := io.WriteString(p.writer, parsed.Summary()); err != nil {
			p.log.WarnContext(ctx, "failed to write mock summary", logger.Error(err))
		}
	}

	if p.record {
		p.mu.Lock()
		p.sent = append(p.sent, parsed)
		p.mu.Unlock()
	}

	return nil
}

// Sent returns the messages recorded so far, oldest first. It is always
// empty for a provider built with New or NewWithWriter.
func (p *Provider) Sent() []*parser.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*parser.Message, len(p.sent))
	copy(out, p.sent)
	return out
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "mock"
}
