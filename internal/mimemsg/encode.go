package mimemsg

import (
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"
)

const (
	base64LineLength = 76
	maxLineLength    = 998
)

// textEncoding picks 7bit for short-lined ASCII and quoted-printable otherwise.
func textEncoding(s string) string {
	if is7bit(s) {
		return "7bit"
	}
	return "quoted-printable"
}

func is7bit(s string) bool {
	lineLen := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\n':
			lineLen = 0
			continue
		case c == 0 || c >= 0x80:
			return false
		}
		lineLen++
		if lineLen > maxLineLength {
			return false
		}
	}
	return true
}

// writeText writes a text body with CRLF line endings in the encoding
// returned by textEncoding.
func writeText(w io.Writer, s string) error {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}

	if is7bit(s) {
		_, err := io.WriteString(w, strings.ReplaceAll(s, "\n", "\r\n"))
		return err
	}

	qp := quotedprintable.NewWriter(w)
	if _, err := io.WriteString(qp, s); err != nil {
		return err
	}
	return qp.Close()
}

// encodeBase64WithLineBreaks encodes data as base64 with CRLF line breaks
// every 76 characters.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)

	var b strings.Builder
	b.Grow(len(encoded) + len(encoded)/base64LineLength*2)
	for i := 0; i < len(encoded); i += base64LineLength {
		end := min(i+base64LineLength, len(encoded))
		if i > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString(encoded[i:end])
	}
	return b.String()
}
