// Package mimemsg assembles an email.Email into a MIME message tree and
// serializes it to RFC 5322 bytes.
//
// The tree shape is fixed:
//
//	multipart/mixed                 (only with regular attachments)
//	  multipart/alternative         (only with an HTML body)
//	    text/plain
//	    multipart/related
//	      text/html
//	      inline attachments...
//	  regular attachments...
package mimemsg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oes-events/webhooks/internal/email"
)

// ErrMissingAddress is returned when the email lacks a sender or recipient.
var ErrMissingAddress = errors.New("email requires both from and to addresses")

// Message is an assembled MIME message ready to be serialized.
type Message struct {
	header Header
	body   Part
	clock  func() time.Time
}

// Assemble builds the MIME tree for e. Inline attachments without an HTML
// body are dropped since nothing can reference them.
func Assemble(e *email.Email) (*Message, error) {
	if strings.TrimSpace(e.From) == "" || strings.TrimSpace(e.To) == "" {
		return nil, ErrMissingAddress
	}

	var inline, regular []Part
	for i := range e.Attachments {
		att := &e.Attachments[i]
		data, err := att.Content()
		if err != nil {
			return nil, err
		}

		mediaType := att.MediaType
		if mediaType == "" {
			mediaType = email.DefaultMediaType
		}
		part := &BinaryPart{
			MediaType:   mediaType,
			Disposition: string(att.Disposition),
			Filename:    att.Name,
			ContentID:   att.ID,
			Data:        data,
		}

		switch att.Disposition {
		case email.DispositionInline:
			inline = append(inline, part)
		case email.DispositionAttachment:
			regular = append(regular, part)
		default:
			return nil, fmt.Errorf("attachment %q has unknown disposition %q", att.ID, att.Disposition)
		}
	}

	var body Part = &TextPart{Text: e.Text}

	if e.HasHTML() {
		related := NewMultipart("related", append([]Part{&HTMLPart{HTML: e.HTML}}, inline...)...)
		body = NewMultipart("alternative", body, related)
	}

	if len(regular) > 0 {
		body = NewMultipart("mixed", append([]Part{body}, regular...)...)
	}

	header := Header{
		{Name: "From", Value: formatAddress(e.From)},
		{Name: "To", Value: formatAddress(e.To)},
	}
	if e.Subject != "" {
		header = append(header, Field{Name: "Subject", Value: mime.QEncoding.Encode("utf-8", e.Subject)})
	}

	return &Message{header: header, body: body}, nil
}

// Header returns the top-level message header, excluding the body's
// content headers. A stamp deferred by StampOnWrite is applied first.
func (m *Message) Header() Header {
	m.applyStamp()
	return m.header
}

// Body returns the root of the MIME tree.
func (m *Message) Body() Part {
	return m.body
}

// From returns the sender address without display name.
func (m *Message) From() string {
	return bareAddress(m.header.Get("From"))
}

// To returns the recipient address without display name.
func (m *Message) To() string {
	return bareAddress(m.header.Get("To"))
}

// Stamp sets the Date and Message-ID headers. It is called at send time so
// the date reflects the delivery attempt.
func (m *Message) Stamp(now time.Time) {
	domain := "localhost"
	if at := strings.LastIndex(m.From(), "@"); at >= 0 && at < len(m.From())-1 {
		domain = m.From()[at+1:]
	}

	m.header.Set("Date", now.Format(time.RFC1123Z))
	m.header.Set("Message-ID", "<"+uuid.NewString()+"@"+domain+">")
}

// StampOnWrite defers stamping to the first serialization or Header call,
// which then calls Stamp(now()). Transports serialize after waiting for any
// shared resource, so the Date header carries the time of the delivery
// attempt.
func (m *Message) StampOnWrite(now func() time.Time) {
	m.clock = now
}

func (m *Message) applyStamp() {
	if m.clock != nil && m.header.Get("Date") == "" {
		m.Stamp(m.clock())
	}
}

// WriteTo serializes the message with CRLF line endings.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	m.applyStamp()

	cw := &countingWriter{w: w}

	h := make(Header, 0, len(m.header)+3)
	h = append(h, m.header...)
	h = append(h, Field{Name: "MIME-Version", Value: "1.0"})
	h = append(h, m.body.Header()...)

	err := writeEntity(cw, h, m.body)
	return cw.n, err
}

// Bytes returns the serialized message.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// formatAddress renders an address for a header, encoding non-ASCII
// display names. Unparseable input is passed through unchanged.
func formatAddress(v string) string {
	addr, err := mail.ParseAddress(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	if addr.Name == "" {
		return addr.Address
	}
	return addr.String()
}

func bareAddress(v string) string {
	addr, err := mail.ParseAddress(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return addr.Address
}
