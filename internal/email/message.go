// Package email defines the core email data model used throughout the webhook server.
package email

import (
	"bytes"
	"fmt"
	"io"
)

// Disposition tells the assembler where an attachment belongs in the MIME tree.
type Disposition string

const (
	// DispositionInline attachments are embedded next to the HTML body and
	// referenced from it by Content-ID.
	DispositionInline Disposition = "inline"
	// DispositionAttachment attachments hang off the outer multipart/mixed part.
	DispositionAttachment Disposition = "attachment"
)

// DefaultMediaType is used when the media type cannot be inferred.
const DefaultMediaType = "application/octet-stream"

// Email represents a composed email message with all its components.
type Email struct {
	To          string
	From        string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// HasHTML reports whether the message carries an HTML alternative.
func (e *Email) HasHTML() bool {
	return e.HTML != ""
}

// Inline returns the inline attachments in registration order.
func (e *Email) Inline() []Attachment {
	return e.filter(DispositionInline)
}

// Regular returns the non-inline attachments in registration order.
func (e *Email) Regular() []Attachment {
	return e.filter(DispositionAttachment)
}

func (e *Email) filter(d Disposition) []Attachment {
	var out []Attachment
	for _, att := range e.Attachments {
		if att.Disposition == d {
			out = append(out, att)
		}
	}
	return out
}

// Attachment represents a file attached to an email message.
// Exactly one of Data and Source is expected to be set; Source wins when both are.
type Attachment struct {
	ID          string
	Name        string
	MediaType   string
	Disposition Disposition
	Data        []byte
	Source      io.Reader
}

// Content returns the attachment payload. A Source reader is consumed once
// and its bytes replace it, so repeated calls return the same content.
func (a *Attachment) Content() ([]byte, error) {
	if a.Source == nil {
		return a.Data, nil
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, a.Source); err != nil {
		return nil, fmt.Errorf("failed to read attachment %q: %w", a.ID, err)
	}
	a.Data = buf.Bytes()
	a.Source = nil
	return a.Data, nil
}
