package template

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// safePath cleans name and checks that it stays inside the template root.
// Absolute paths are always rejected.
func safePath(name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if !filepath.IsLocal(cleaned) {
		return "", fmt.Errorf("%w: %q", ErrPathViolation, name)
	}
	return cleaned, nil
}

// rootLoader is a pongo2 TemplateLoader confined to an os.Root. Names are
// resolved against the root rather than the including template, and
// symlinks leaving the root fail to open.
type rootLoader struct {
	root *os.Root
}

// Abs returns the root-relative path for name. Invalid names are returned
// unchanged so that Get reports the violation.
func (l *rootLoader) Abs(_, name string) string {
	cleaned, err := safePath(name)
	if err != nil {
		return name
	}
	return cleaned
}

func (l *rootLoader) Get(path string) (io.Reader, error) {
	data, err := l.read(path)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (l *rootLoader) read(name string) ([]byte, error) {
	cleaned, err := safePath(name)
	if err != nil {
		return nil, err
	}

	f, err := l.root.Open(cleaned)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		if isEscape(err) {
			return nil, fmt.Errorf("%w: %q", ErrPathViolation, name)
		}
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// textLoader serves files to the text template set. Every file starts with
// the plaintext tag, so a text template renders unescaped whether it is
// executed directly, extended or included.
type textLoader struct {
	*rootLoader
}

func (l textLoader) Get(path string) (io.Reader, error) {
	r, err := l.rootLoader.Get(path)
	if err != nil {
		return nil, err
	}
	return io.MultiReader(strings.NewReader("{% "+plainTextTag+" %}"), r), nil
}

// exists reports whether name is a regular file inside the root.
func (l *rootLoader) exists(name string) (bool, error) {
	cleaned, err := safePath(name)
	if err != nil {
		return false, err
	}

	info, err := l.root.Stat(cleaned)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil && isEscape(err):
		return false, fmt.Errorf("%w: %q", ErrPathViolation, name)
	case err != nil:
		return false, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return info.Mode().IsRegular(), nil
}

// isEscape reports whether err came from os.Root refusing a path that
// resolves outside of it.
func isEscape(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) && pathErr.Err.Error() == "path escapes from parent"
}
