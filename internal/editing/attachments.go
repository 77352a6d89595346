package editing

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
)

// imageGlob matches image filenames when the chat platform sent no content type.
const imageGlob = "*.{png,jpg,jpeg,gif,webp,bmp,heic}"

// Attachment is a file attached to an inbound chat message.
type Attachment struct {
	ID          string
	Name        string
	URL         string
	ContentType string
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool {
	if a.ContentType != "" {
		return strings.HasPrefix(strings.ToLower(a.ContentType), "image/")
	}
	ok, err := doublestar.Match(imageGlob, strings.ToLower(path.Base(a.Name)))
	return err == nil && ok
}

// FirstImage returns the first image attachment. Later images are never used.
func FirstImage(attachments []Attachment) (Attachment, bool) {
	for _, a := range attachments {
		if a.IsImage() {
			return a, true
		}
	}
	return Attachment{}, false
}

// Surface is the chat surface bound to one conversation.
type Surface interface {
	// SendText posts a text message and returns its message id.
	SendText(ctx context.Context, text string) (string, error)
	// SendFile uploads a local file and returns the resulting message id.
	SendFile(ctx context.Context, path string) (string, error)
	// Download fetches an attachment's bytes.
	Download(ctx context.Context, a Attachment) ([]byte, error)
}

// TransportError is returned by Download when the chat platform answered with a
// non-success status.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// extensionFor picks the file extension for image bytes, preferring detection over the
// declared content type.
func extensionFor(data []byte, declared string) string {
	if m := mimetype.Detect(data); strings.HasPrefix(m.String(), "image/") && m.Extension() != "" {
		return m.Extension()
	}
	if declared != "" {
		if m := mimetype.Lookup(declared); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}
	return ".png"
}
