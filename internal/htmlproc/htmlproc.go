// Package htmlproc prepares rendered HTML for email clients: local
// stylesheets are embedded, CSS is inlined into style attributes and the
// document is minified.
package htmlproc

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/vanng822/go-premailer/premailer"
)

// ErrStylesheet is returned when a linked local stylesheet cannot be used.
var ErrStylesheet = errors.New("invalid stylesheet link")

// Processor transforms HTML bodies. It is safe for concurrent use.
type Processor struct {
	fsys     fs.FS
	minifier *minify.M
}

// New returns a Processor that resolves local stylesheet links against fsys.
// A nil fsys leaves every link untouched.
func New(fsys fs.FS) *Processor {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.Add("text/html", &html.Minifier{
		KeepDocumentType: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})

	return &Processor{
		fsys:     fsys,
		minifier: m,
	}
}

// Process embeds local stylesheets, inlines CSS and minifies the result.
func (p *Processor) Process(src string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	if err := p.embedStylesheets(doc); err != nil {
		return "", err
	}

	opts := premailer.NewOptions()
	opts.CssToAttributes = false
	inlined, err := premailer.NewPremailer(doc, opts).Transform()
	if err != nil {
		return "", fmt.Errorf("failed to inline css: %w", err)
	}

	out, err := p.minifier.String("text/html", inlined)
	if err != nil {
		return "", fmt.Errorf("failed to minify html: %w", err)
	}
	return out, nil
}

// embedStylesheets replaces <link rel="stylesheet"> elements pointing at
// local files with <style> elements holding the file contents. Links with
// a scheme or host are left alone.
func (p *Processor) embedStylesheets(doc *goquery.Document) error {
	if p.fsys == nil {
		return nil
	}

	var err error
	doc.Find(`link[rel="stylesheet"][href]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		name, local := localPath(href)
		if !local {
			return true
		}
		if !fs.ValidPath(name) {
			err = fmt.Errorf("%w: %q escapes the template root", ErrStylesheet, href)
			return false
		}

		data, readErr := fs.ReadFile(p.fsys, name)
		if readErr != nil {
			err = fmt.Errorf("%w: %s: %w", ErrStylesheet, href, readErr)
			return false
		}

		s.ReplaceWithHtml("<style>" + string(data) + "</style>")
		return true
	})
	return err
}

// localPath returns the cleaned root-relative path for href and whether
// it refers to a local file.
func localPath(href string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return "", false
	}
	return path.Clean(strings.TrimPrefix(u.Path, "/")), true
}
