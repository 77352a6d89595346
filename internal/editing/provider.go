// Package editing runs image edit requests against two providers concurrently and
// reports each provider's outcome to the conversation as soon as it is known.
package editing

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrTimeout marks a provider call the orchestrator stopped waiting for.
	ErrTimeout = errors.New("timed out")
	// ErrNoImage means the model answered without an image.
	ErrNoImage = errors.New("no image returned by model")
)

// Image is an opaque image blob.
type Image struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Provider edits an image according to a text prompt.
type Provider interface {
	// Name identifies the provider in transcripts and metrics, e.g. "gemini".
	Name() string
	// DisplayName is the user-facing provider name, e.g. "Gemini".
	DisplayName() string
	// Edit makes a single attempt and writes the result next to dest, which is an output
	// path without extension. It returns the path of the written file.
	Edit(ctx context.Context, img Image, prompt, dest string) (string, error)
}

// EditError is returned by providers for any failed attempt.
type EditError struct {
	Provider string
	Err      error
}

func (e *EditError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *EditError) Unwrap() error {
	return e.Err
}

// stageImage copies the source image to a temporary file. The returned cleanup removes
// it and must be called on every path.
func stageImage(dir string, data []byte) (string, func(), error) {
	f, err := os.CreateTemp(dir, "editbot-*.png")
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to stage image: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("failed to stage image: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to stage image: %w", err)
	}

	return path, cleanup, nil
}
