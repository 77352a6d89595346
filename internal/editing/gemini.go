package editing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/ireland-samantha/editbot/internal/executor"
)

// maxTextPreview bounds model text echoed back in errors.
const maxTextPreview = 512

// GeminiConfig configures the Gemini image edit provider.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	TempDir string
}

// GeminiProvider edits images with Gemini's image generation models. The upload and
// the streaming read loop block, so each call is submitted to the worker pool.
type GeminiProvider struct {
	client *genai.Client
	config GeminiConfig
	pool   *executor.Pool
	logger *slog.Logger
}

// NewGeminiProvider creates the Gemini provider and its API client. A non-empty BaseURL
// replaces the public endpoint.
func NewGeminiProvider(ctx context.Context, config GeminiConfig, pool *executor.Pool, logger *slog.Logger) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      config.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: config.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		config: config,
		pool:   pool,
		logger: logger,
	}, nil
}

// Name returns the transcript identity.
func (p *GeminiProvider) Name() string { return "gemini" }

// DisplayName returns the user-facing name.
func (p *GeminiProvider) DisplayName() string { return "Gemini" }

// Edit runs one edit attempt on the worker pool.
func (p *GeminiProvider) Edit(ctx context.Context, img Image, prompt, dest string) (string, error) {
	output, err := p.pool.Do(ctx, func(ctx context.Context) (string, error) {
		return p.edit(ctx, img, prompt, dest)
	})
	if err != nil {
		var editErr *EditError
		if errors.As(err, &editErr) {
			return "", err
		}
		return "", p.fail(err)
	}
	return output, nil
}

func (p *GeminiProvider) edit(ctx context.Context, img Image, prompt, dest string) (string, error) {
	staged, cleanup, err := stageImage(p.config.TempDir, img.Data)
	if err != nil {
		return "", p.fail(err)
	}
	defer cleanup()

	mime := img.ContentType
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}

	uploaded, err := p.client.Files.UploadFromPath(ctx, staged, &genai.UploadFileConfig{MIMEType: mime})
	if err != nil {
		return "", p.fail(fmt.Errorf("upload failed: %w", err))
	}
	defer func() {
		if _, err := p.client.Files.Delete(context.WithoutCancel(ctx), uploaded.Name, nil); err != nil {
			p.logger.Warn("failed to delete uploaded gemini file", "file", uploaded.Name, "error", err)
		}
	}()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(uploaded.URI, uploaded.MIMEType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	var image *genai.Blob
	var text strings.Builder
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.config.Model, contents, config) {
		if err != nil {
			return "", p.fail(err)
		}
		if blob := inlineImage(resp); blob != nil {
			image = blob
		}
		text.WriteString(responseText(resp))
	}

	if image == nil {
		return "", p.fail(noImageError(text.String()))
	}

	output := dest + extensionFor(image.Data, image.MIMEType)
	if err := os.WriteFile(output, image.Data, 0o644); err != nil {
		return "", p.fail(fmt.Errorf("failed to save result: %w", err))
	}

	p.logger.Debug("gemini edit saved", "path", output, "bytes", len(image.Data))
	return output, nil
}

func (p *GeminiProvider) fail(err error) error {
	return &EditError{Provider: p.Name(), Err: err}
}

// inlineImage returns the last inline image part of a streamed chunk, if any.
func inlineImage(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var found *genai.Blob
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			found = part.InlineData
		}
	}
	return found
}

// responseText concatenates the text parts of a streamed chunk.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// noImageError surfaces model text when the stream held no image, which is how the
// model reports refusals.
func noImageError(text string) error {
	s := strings.TrimSpace(text)
	if s == "" {
		return ErrNoImage
	}
	if runes := []rune(s); len(runes) > maxTextPreview {
		s = string(runes[:maxTextPreview]) + "..."
	}
	return fmt.Errorf("%w: %s", ErrNoImage, s)
}
