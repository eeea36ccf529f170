package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Provider records the delivery transport under the key "provider".
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// Template records a template name under the key "template".
func Template(name string) slog.Attr {
	return slog.String("template", name)
}

// Recipient records the destination address under the key "to".
func Recipient(addr string) slog.Attr {
	return slog.String("to", addr)
}

// Hook records a sheets hook ID under the key "hook".
func Hook(id string) slog.Attr {
	return slog.String("hook", id)
}
