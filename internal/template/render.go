package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// HTMLProcessor post-processes rendered HTML bodies.
type HTMLProcessor interface {
	Process(html string) (string, error)
}

// RenderMessage renders <name>.txt and, when present, <name>.html with the
// same capabilities. The text variant is required. The returned HTML is nil
// when no HTML variant exists; otherwise it has been passed through proc.
func RenderMessage(ctx context.Context, e *Engine, proc HTMLProcessor, caps *Capabilities, name string, data map[string]any) (string, *string, error) {
	text, err := e.Render(ctx, name+".txt", data, caps)
	if err != nil {
		return "", nil, err
	}

	html, err := e.Render(ctx, name+".html", data, caps)
	if errors.Is(err, ErrTemplateNotFound) {
		return text, nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	if proc != nil {
		html, err = proc.Process(html)
		if err != nil {
			return "", nil, fmt.Errorf("failed to process html for %s: %w", name, err)
		}
	}
	return text, &html, nil
}

// NormalizeJSON converts json.Number values decoded with UseNumber into
// int64 when they are integral and float64 otherwise, so that templates
// print integers without a fractional part.
func NormalizeJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = NormalizeJSON(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = NormalizeJSON(item)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
