package parser

import (
	"fmt"
	"strings"
)

// Summary renders the message headers and MIME tree in a human-readable form.
func (m *Message) Summary() string {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "From: %s\n", m.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	if m.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", m.Date)
	}
	b.WriteString("Structure:\n")

	m.Walk(func(p *Part, depth int) {
		b.WriteString(strings.Repeat("  ", depth+1))
		b.WriteString(p.MediaType)
		if p.IsMultipart() {
			b.WriteString("\n")
			return
		}
		if p.Disposition != "" {
			b.WriteString(" " + p.Disposition)
		}
		if p.ContentID != "" {
			b.WriteString(" cid=" + p.ContentID)
		}
		if p.Filename != "" {
			fmt.Fprintf(&b, " %q", p.Filename)
		}
		fmt.Fprintf(&b, " (%s)\n", formatSize(len(p.Content)))
	})

	if text := m.TextBody(); text != "" {
		b.WriteString("Body:\n")
		b.WriteString(strings.TrimRight(text, "\r\n") + "\n")
	}

	b.WriteString("========================================\n")
	return b.String()
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
