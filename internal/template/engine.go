// Package template renders email templates from a trusted directory.
//
// Templates are evaluated by the pongo2 interpreter. Besides the request
// data, a template can only reach a fixed set of capabilities:
//
//	attach(path[, name[, media_type]])   register a regular attachment, returns its ID
//	inline(path[, name[, media_type]])   register an inline attachment, returns its ID
//	subject()                            the subject currently in effect
//	set_subject(s)                       override the subject
//	default_subject(s)                   set the subject unless one is present
//
// All file access, including include/extends/import, is confined to the
// template root.
package template

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/flosch/pongo2/v6"

	"github.com/oes-events/webhooks/internal/email"
)

// Engine loads and renders templates below a single root directory.
// It is safe for concurrent use.
type Engine struct {
	root   *os.Root
	loader *rootLoader
	html   *pongo2.TemplateSet
	text   *pongo2.TemplateSet
}

// plainTextTag turns autoescaping off for the rest of an execution. The
// text loader puts it in front of every file so that it sits at root level,
// where extends is still allowed.
const plainTextTag = "plaintext"

type plainTextNode struct{}

func (plainTextNode) Execute(ctx *pongo2.ExecutionContext, _ pongo2.TemplateWriter) *pongo2.Error {
	ctx.Autoescape = false
	return nil
}

func init() {
	err := pongo2.RegisterTag(plainTextTag, func(_ *pongo2.Parser, _ *pongo2.Token, args *pongo2.Parser) (pongo2.INodeTag, *pongo2.Error) {
		if args.Remaining() > 0 {
			return nil, args.Error("Tag 'plaintext' takes no arguments.", nil)
		}
		return plainTextNode{}, nil
	})
	if err != nil {
		panic(err)
	}
}

// New opens dir as the template root.
func New(dir string) (*Engine, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open template root %s: %w", dir, err)
	}

	loader := &rootLoader{root: root}
	html := pongo2.NewSet("html", loader)
	text := pongo2.NewSet("text", textLoader{loader})
	for _, restrict := range []func() error{
		func() error { return html.BanTag("ssi") },
		func() error { return html.BanTag(plainTextTag) },
		func() error { return text.BanTag("ssi") },
	} {
		if err := restrict(); err != nil {
			root.Close()
			return nil, fmt.Errorf("failed to restrict template set: %w", err)
		}
	}

	return &Engine{
		root:   root,
		loader: loader,
		html:   html,
		text:   text,
	}, nil
}

// Close releases the template root.
func (e *Engine) Close() error {
	return e.root.Close()
}

// FS exposes the template root as a read-only file system.
func (e *Engine) FS() fs.FS {
	return e.root.FS()
}

// NewCapabilities returns the per-render state handed to templates.
func (e *Engine) NewCapabilities(defaultSubject string) *Capabilities {
	return &Capabilities{
		Attachments: NewAttachments(e.root),
		Subject:     NewSubject(defaultSubject),
	}
}

// Render renders the template at name with data. Files ending in .html or
// .htm are autoescaped; everything else is rendered verbatim. A single
// trailing newline is removed from the output.
func (e *Engine) Render(ctx context.Context, name string, data map[string]any, caps *Capabilities) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cleaned, err := safePath(name)
	if err != nil {
		return "", err
	}

	ok, err := e.loader.exists(cleaned)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	tpl, err := e.load(cleaned)
	if err != nil {
		return "", err
	}

	out, err := tpl.Execute(caps.context(data))
	if capErr := caps.Err(); capErr != nil {
		return "", capErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}

	return strings.TrimSuffix(out, "\n"), nil
}

func (e *Engine) load(name string) (*pongo2.Template, error) {
	set := e.text
	if isHTML(name) {
		set = e.html
	}

	tpl, err := set.FromCache(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", name, err)
	}
	return tpl, nil
}

func isHTML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}

// Capabilities is the mutable state a template may touch during one render.
// The same value is shared by the text and HTML variants of a message.
type Capabilities struct {
	Attachments *Attachments
	Subject     *Subject

	err error
}

// Err returns the first error raised by a capability call.
func (c *Capabilities) Err() error {
	return c.err
}

func (c *Capabilities) fail(err error) error {
	if c.err == nil {
		c.err = err
	}
	return err
}

func (c *Capabilities) register(disposition email.Disposition, path string, opts []string) (string, error) {
	if len(opts) > 2 {
		return "", c.fail(fmt.Errorf("too many arguments for attachment %q", path))
	}

	var name, mediaType string
	if len(opts) > 0 {
		name = opts[0]
	}
	if len(opts) > 1 {
		mediaType = opts[1]
	}

	id, err := c.Attachments.Register(path, name, mediaType, disposition)
	if err != nil {
		return "", c.fail(err)
	}
	return id, nil
}

// context builds the pongo2 context: data keys that are valid identifiers,
// overlaid with the capability functions.
func (c *Capabilities) context(data map[string]any) pongo2.Context {
	ctx := dataContext(data, 5)

	ctx["attach"] = func(path string, opts ...string) (string, error) {
		return c.register(email.DispositionAttachment, path, opts)
	}
	ctx["inline"] = func(path string, opts ...string) (string, error) {
		return c.register(email.DispositionInline, path, opts)
	}
	ctx["subject"] = func() string {
		return c.Subject.String()
	}
	ctx["set_subject"] = func(s string) string {
		c.Subject.Set(s)
		return ""
	}
	ctx["default_subject"] = func(s string) string {
		c.Subject.SetDefault(s)
		return ""
	}
	return ctx
}

// dataContext copies the keys of data that templates can address.
func dataContext(data map[string]any, extra int) pongo2.Context {
	ctx := make(pongo2.Context, len(data)+extra)
	for k, v := range data {
		if validIdentifier(k) {
			ctx[k] = v
		}
	}
	return ctx
}

func validIdentifier(s string) bool {
	if s == "" || s == "pongo2" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '_' && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
