// Package parser reads RFC 5322 messages back into a MIME part tree.
// The mock transport uses it to log readable summaries and tests use it to
// check the structure produced by the assembler.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Message is a parsed email message.
type Message struct {
	From      string
	To        []string
	Subject   string
	Date      string
	MessageID string
	Header    mail.Header
	Root      *Part
}

// Part is one node of the MIME tree. Multipart nodes carry Children,
// leaves carry decoded Content.
type Part struct {
	MediaType   string
	Params      map[string]string
	Disposition string
	Filename    string
	ContentID   string
	Encoding    string
	Content     []byte
	Children    []*Part
}

// IsMultipart reports whether the part is a multipart container.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.MediaType, "multipart/")
}

// Parse parses a raw RFC 5322 email message.
func Parse(raw []byte) (*Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &Message{
		Header:    msg.Header,
		From:      msg.Header.Get("From"),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		Date:      msg.Header.Get("Date"),
		MessageID: msg.Header.Get("Message-Id"),
		To:        parseAddressList(msg.Header.Get("To")),
	}

	root, err := parsePart(
		msg.Header.Get("Content-Type"),
		msg.Header.Get("Content-Disposition"),
		msg.Header.Get("Content-Id"),
		msg.Header.Get("Content-Transfer-Encoding"),
		msg.Body,
	)
	if err != nil {
		return nil, err
	}
	result.Root = root

	return result, nil
}

// parsePart builds the node for a single entity, recursing into multipart bodies.
func parsePart(contentType, disposition, contentID, encoding string, body io.Reader) (*Part, error) {
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// If content type is unparseable, treat as plain text
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		mediaType, params = "text/plain", map[string]string{}
	}

	part := &Part{
		MediaType: mediaType,
		Params:    params,
		ContentID: strings.TrimSpace(contentID),
		Encoding:  strings.ToLower(strings.TrimSpace(encoding)),
	}

	if disposition != "" {
		if d, dparams, err := mime.ParseMediaType(disposition); err == nil {
			part.Disposition = d
			part.Filename = dparams["filename"]
		}
	}
	if part.Filename == "" {
		part.Filename = params["name"]
	}

	if part.IsMultipart() {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart part %s missing boundary", mediaType)
		}
		if err := parseMultipart(body, boundary, part); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", mediaType, err)
		}
		return part, nil
	}

	content, err := readContent(body, part.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s content: %w", mediaType, err)
	}
	part.Content = content

	return part, nil
}

// parseMultipart reads every child entity of a multipart body into parent.
func parseMultipart(body io.Reader, boundary string, parent *Part) error {
	reader := multipart.NewReader(body, boundary)

	for {
		mp, err := reader.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		child, err := parsePart(
			mp.Header.Get("Content-Type"),
			mp.Header.Get("Content-Disposition"),
			mp.Header.Get("Content-Id"),
			mp.Header.Get("Content-Transfer-Encoding"),
			mp,
		)
		if err != nil {
			return err
		}
		parent.Children = append(parent.Children, child)
	}

	return nil
}

// readContent reads an entity body, undoing its Content-Transfer-Encoding.
func readContent(r io.Reader, encoding string) ([]byte, error) {
	switch encoding {
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			// Try with RawStdEncoding for unpadded base64
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// Walk visits every part depth-first, parents before children.
func (m *Message) Walk(fn func(p *Part, depth int)) {
	var walk func(p *Part, depth int)
	walk = func(p *Part, depth int) {
		fn(p, depth)
		for _, c := range p.Children {
			walk(c, depth+1)
		}
	}
	if m.Root != nil {
		walk(m.Root, 0)
	}
}

// TextBody returns the first text/plain body part that is not a file.
func (m *Message) TextBody() string {
	return m.firstBody("text/plain")
}

// HTMLBody returns the first text/html body part that is not a file.
func (m *Message) HTMLBody() string {
	return m.firstBody("text/html")
}

func (m *Message) firstBody(mediaType string) string {
	var body string
	found := false
	m.Walk(func(p *Part, _ int) {
		if found || p.MediaType != mediaType || p.Filename != "" || p.Disposition == "attachment" {
			return
		}
		body = string(p.Content)
		found = true
	})
	return body
}

// Attachments returns every leaf that carries a filename, in document order.
func (m *Message) Attachments() []*Part {
	var out []*Part
	m.Walk(func(p *Part, _ int) {
		if !p.IsMultipart() && p.Filename != "" {
			out = append(out, p)
		}
	})
	return out
}

// decodeHeader decodes RFC 2047 encoded words, returning the input on failure.
func decodeHeader(v string) string {
	dec := new(mime.WordDecoder)
	out, err := dec.DecodeHeader(v)
	if err != nil {
		return v
	}
	return out
}

// parseAddressList splits a comma-separated address list into individual addresses.
func parseAddressList(raw string) []string {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}
