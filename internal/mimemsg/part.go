package mimemsg

import (
	"io"
	"mime"
	"strings"

	"github.com/google/uuid"
)

// Part is one typed node of the MIME tree.
type Part interface {
	// Header returns the entity header fields in wire order.
	Header() Header
	// writeBody writes the encoded entity body, ending with CRLF.
	writeBody(w io.Writer) error
}

// TextPart is a text/plain body.
type TextPart struct {
	Text string
}

func (p *TextPart) Header() Header {
	return Header{
		{Name: "Content-Type", Value: mime.FormatMediaType("text/plain", map[string]string{"charset": "utf-8"})},
		{Name: "Content-Transfer-Encoding", Value: textEncoding(p.Text)},
	}
}

func (p *TextPart) writeBody(w io.Writer) error {
	return writeText(w, p.Text)
}

// HTMLPart is the text/html body; it is always marked inline.
type HTMLPart struct {
	HTML string
}

func (p *HTMLPart) Header() Header {
	return Header{
		{Name: "Content-Type", Value: mime.FormatMediaType("text/html", map[string]string{"charset": "utf-8"})},
		{Name: "Content-Transfer-Encoding", Value: textEncoding(p.HTML)},
		{Name: "Content-Disposition", Value: "inline"},
	}
}

func (p *HTMLPart) writeBody(w io.Writer) error {
	return writeText(w, p.HTML)
}

// BinaryPart is a base64-encoded file, inline or attached.
type BinaryPart struct {
	MediaType   string
	Disposition string
	Filename    string
	ContentID   string
	Data        []byte
}

func (p *BinaryPart) Header() Header {
	disposition := p.Disposition
	if p.Filename != "" {
		if v := mime.FormatMediaType(p.Disposition, map[string]string{"filename": p.Filename}); v != "" {
			disposition = v
		}
	}

	h := Header{
		{Name: "Content-Type", Value: p.MediaType},
		{Name: "Content-Transfer-Encoding", Value: "base64"},
		{Name: "Content-Disposition", Value: disposition},
	}
	if p.ContentID != "" {
		h = append(h, Field{Name: "Content-ID", Value: "<" + p.ContentID + ">"})
	}
	return h
}

func (p *BinaryPart) writeBody(w io.Writer) error {
	_, err := io.WriteString(w, encodeBase64WithLineBreaks(p.Data)+"\r\n")
	return err
}

// Multipart is a container (mixed, alternative or related) of child parts.
type Multipart struct {
	Subtype  string
	Boundary string
	Children []Part
}

// NewMultipart returns a container with a fresh random boundary.
func NewMultipart(subtype string, children ...Part) *Multipart {
	return &Multipart{
		Subtype:  subtype,
		Boundary: newBoundary(),
		Children: children,
	}
}

func (p *Multipart) Header() Header {
	return Header{
		{Name: "Content-Type", Value: mime.FormatMediaType("multipart/"+p.Subtype, map[string]string{"boundary": p.Boundary})},
	}
}

func (p *Multipart) writeBody(w io.Writer) error {
	for _, child := range p.Children {
		if _, err := io.WriteString(w, "--"+p.Boundary+"\r\n"); err != nil {
			return err
		}
		if err := writeEntity(w, child.Header(), child); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "--"+p.Boundary+"--\r\n")
	return err
}

// writeEntity writes a header block, the separating blank line and the body.
func writeEntity(w io.Writer, h Header, p Part) error {
	if err := h.write(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	return p.writeBody(w)
}

func newBoundary() string {
	return "=_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
