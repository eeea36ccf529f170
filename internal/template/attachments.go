package template

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/oes-events/webhooks/internal/email"
)

// Attachments collects the files registered by templates during one render.
// It is not safe for concurrent use.
type Attachments struct {
	root  *os.Root
	items []email.Attachment
}

// NewAttachments returns an empty registry reading files from root.
func NewAttachments(root *os.Root) *Attachments {
	return &Attachments{root: root}
}

// Register reads the file at path, relative to the template root, and
// returns the generated attachment ID. An empty name defaults to the file's
// base name and an empty mediaType is inferred from the extension.
func (a *Attachments) Register(path, name, mediaType string, disposition email.Disposition) (string, error) {
	cleaned, err := safePath(path)
	if err != nil {
		return "", err
	}

	data, err := a.read(cleaned)
	if err != nil {
		return "", err
	}

	if name == "" {
		name = filepath.Base(cleaned)
	}
	if mediaType == "" {
		mediaType = mediaTypeByExtension(cleaned)
	}

	id := "attachment" + strconv.Itoa(len(a.items)+1)
	a.items = append(a.items, email.Attachment{
		ID:          id,
		Name:        name,
		MediaType:   mediaType,
		Disposition: disposition,
		Data:        data,
	})
	return id, nil
}

// All returns the registered attachments in registration order.
func (a *Attachments) All() []email.Attachment {
	out := make([]email.Attachment, len(a.items))
	copy(out, a.items)
	return out
}

func (a *Attachments) read(cleaned string) ([]byte, error) {
	f, err := a.root.Open(cleaned)
	if err != nil {
		if isEscape(err) {
			return nil, fmt.Errorf("%w: %q", ErrPathViolation, cleaned)
		}
		return nil, fmt.Errorf("failed to open attachment %s: %w", cleaned, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat attachment %s: %w", cleaned, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("attachment %s is a directory", cleaned)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", cleaned, err)
	}
	return data, nil
}

// mediaTypeByExtension guesses the media type from the file extension,
// dropping any parameters such as charset.
func mediaTypeByExtension(name string) string {
	t := mime.TypeByExtension(filepath.Ext(name))
	if t == "" {
		return email.DefaultMediaType
	}
	mediaType, _, err := mime.ParseMediaType(t)
	if err != nil {
		return email.DefaultMediaType
	}
	return mediaType
}
