package editing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) (*OpenAIProvider, string) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tempDir := t.TempDir()
	p := NewOpenAIProvider(OpenAIConfig{
		APIKey:  "sk-test",
		APIURL:  srv.URL + "/v1/",
		Model:   "gpt-image-1",
		TempDir: tempDir,
	}, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	return p, tempDir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged files must be removed")
}

func TestOpenAIProviderEdit(t *testing.T) {
	var gotPrompt, gotModel, gotSize, gotFormat, gotAuth string
	var gotImage []byte

	p, tempDir := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/edits", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(10<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		gotPrompt = r.FormValue("prompt")
		gotModel = r.FormValue("model")
		gotSize = r.FormValue("size")
		gotFormat = r.FormValue("response_format")
		gotAuth = r.Header.Get("Authorization")

		f, _, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotImage, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString([]byte("edited-bytes"))}},
		})
	})

	dest := filepath.Join(t.TempDir(), "edited_image_openai_x")
	path, err := p.Edit(context.Background(), Image{Data: pngBytes, ContentType: "image/png"}, "make it blue", dest)
	require.NoError(t, err)

	assert.Equal(t, dest+".png", path)
	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("edited-bytes"), saved)

	assert.Equal(t, "make it blue", gotPrompt)
	assert.Equal(t, "gpt-image-1", gotModel)
	assert.Equal(t, "1024x1024", gotSize)
	// gpt-image-1 always answers with b64_json and rejects the parameter
	assert.Empty(t, gotFormat)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, pngBytes, gotImage)
	assertEmptyDir(t, tempDir)
}

func TestOpenAIProviderFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "service error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			},
			wantErr: "upstream exploded",
		},
		{
			name: "empty data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"created":1,"data":[]}`))
			},
			wantErr: "no image returned by model",
		},
		{
			name: "bad base64",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"created":1,"data":[{"b64_json":"%%%"}]}`))
			},
			wantErr: "malformed image payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, tempDir := newTestOpenAI(t, tt.handler)

			dest := filepath.Join(t.TempDir(), "out")
			_, err := p.Edit(context.Background(), Image{Data: pngBytes}, "make it blue", dest)
			require.ErrorContains(t, err, tt.wantErr)

			var editErr *EditError
			require.True(t, errors.As(err, &editErr))
			assert.Equal(t, "openai", editErr.Provider)

			_, statErr := os.Stat(dest + ".png")
			assert.True(t, os.IsNotExist(statErr))
			assertEmptyDir(t, tempDir)
		})
	}
}

func TestStageImage(t *testing.T) {
	dir := t.TempDir()

	path, cleanup, err := stageImage(dir, pngBytes)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	cleanup()
	assertEmptyDir(t, dir)
}
