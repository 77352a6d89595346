package editing

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	openaiClient "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI image edit provider.
type OpenAIConfig struct {
	APIKey  string
	APIURL  string
	Model   string
	Size    string
	TempDir string
}

// OpenAIProvider edits images with the OpenAI images API. Calls are plain network I/O
// and run on the caller's goroutine.
type OpenAIProvider struct {
	client *openaiClient.Client
	config OpenAIConfig
	logger *slog.Logger
}

// NewOpenAIProvider creates the OpenAI provider. A non-empty APIURL replaces the default
// endpoint, for compatible gateways.
func NewOpenAIProvider(config OpenAIConfig, httpClient *http.Client, logger *slog.Logger) *OpenAIProvider {
	clientConfig := openaiClient.DefaultConfig(config.APIKey)
	if config.APIURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(config.APIURL, "/")
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}
	if config.Size == "" {
		config.Size = openaiClient.CreateImageSize1024x1024
	}

	return &OpenAIProvider{
		client: openaiClient.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}

// Name returns the transcript identity.
func (p *OpenAIProvider) Name() string { return "openai" }

// DisplayName returns the user-facing name.
func (p *OpenAIProvider) DisplayName() string { return "OpenAI" }

// Edit sends the image and prompt to the image edit endpoint and writes <dest>.png.
func (p *OpenAIProvider) Edit(ctx context.Context, img Image, prompt, dest string) (string, error) {
	staged, cleanup, err := stageImage(p.config.TempDir, img.Data)
	if err != nil {
		return "", p.fail(err)
	}
	defer cleanup()

	f, err := os.Open(staged)
	if err != nil {
		return "", p.fail(fmt.Errorf("failed to open staged image: %w", err))
	}
	defer f.Close()

	resp, err := p.client.CreateEditImage(ctx, openaiClient.ImageEditRequest{
		Image:  f,
		Prompt: prompt,
		Model:  p.config.Model,
		Size:   p.config.Size,
		N:      1,
	})
	if err != nil {
		return "", p.fail(err)
	}

	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", p.fail(ErrNoImage)
	}

	imageBytes, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return "", p.fail(fmt.Errorf("malformed image payload: %w", err))
	}

	output := dest + ".png"
	if err := os.WriteFile(output, imageBytes, 0o644); err != nil {
		return "", p.fail(fmt.Errorf("failed to save result: %w", err))
	}

	p.logger.Debug("openai edit saved", "path", output, "bytes", len(imageBytes))
	return output, nil
}

func (p *OpenAIProvider) fail(err error) error {
	return &EditError{Provider: p.Name(), Err: err}
}
