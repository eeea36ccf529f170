package mimemsg

import (
	"io"
	"strings"
)

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Unlike textproto.MIMEHeader it
// keeps insertion order, so the wire output is stable.
type Header []Field

// Get returns the first value for name, matched case-insensitively.
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Set replaces the first field named name or appends a new one.
func (h *Header) Set(name, value string) {
	for i, f := range *h {
		if strings.EqualFold(f.Name, name) {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Field{Name: name, Value: value})
}

func (h Header) write(w io.Writer) error {
	for _, f := range h {
		if _, err := io.WriteString(w, f.Name+": "+sanitizeHeaderValue(f.Value)+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

// sanitizeHeaderValue strips line breaks so values cannot inject header lines.
func sanitizeHeaderValue(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}
