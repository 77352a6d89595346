package slack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ireland-samantha/editbot/internal/editing"
	"github.com/ireland-samantha/editbot/internal/metrics"
	"github.com/ireland-samantha/editbot/internal/storage"
)

type fakeSurface struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSurface) SendText(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return fmt.Sprintf("notice-%d", len(s.texts)), nil
}

func (s *fakeSurface) SendFile(ctx context.Context, path string) (string, error) {
	return "", errors.New("not supported")
}

func (s *fakeSurface) Download(ctx context.Context, a editing.Attachment) ([]byte, error) {
	return nil, errors.New("not supported")
}

type fakeChat struct {
	mu        sync.Mutex
	surfaces  map[string]*fakeSurface
	threads   []string
	createErr error
}

func newFakeChat() *fakeChat {
	return &fakeChat{surfaces: make(map[string]*fakeSurface)}
}

func (c *fakeChat) Conversation(channelID, threadTS string) editing.Surface {
	return c.surface(channelID, threadTS)
}

func (c *fakeChat) surface(channelID, threadTS string) *fakeSurface {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := channelID + "/" + threadTS
	s, ok := c.surfaces[key]
	if !ok {
		s = &fakeSurface{}
		c.surfaces[key] = s
	}
	return s
}

func (c *fakeChat) CreateThread(ctx context.Context, channelID, parentTS, name string) (string, error) {
	if c.createErr != nil {
		return "", c.createErr
	}
	c.mu.Lock()
	c.threads = append(c.threads, name)
	c.mu.Unlock()
	return parentTS, nil
}

type fakeEditor struct {
	mu       sync.Mutex
	requests []editing.Request
	err      error
}

func (e *fakeEditor) Process(ctx context.Context, req editing.Request, out editing.Surface) ([]editing.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return nil, e.err
}

type routerEnv struct {
	chat    *fakeChat
	log     *storage.MemoryLog
	editor  *fakeEditor
	handler *Handler
}

func setupRouter(t *testing.T) *routerEnv {
	chat := newFakeChat()
	log := storage.NewMemoryLog(t.TempDir())
	editor := &fakeEditor{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &routerEnv{
		chat:    chat,
		log:     log,
		editor:  editor,
		handler: NewHandler(chat, log, editor, metrics.NewNoopMetrics(), "!edit", "editbot", logger),
	}
}

func photo() []editing.Attachment {
	return []editing.Attachment{{ID: "F1", Name: "cat.png", URL: "https://files/cat.png", ContentType: "image/png"}}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text   string
		prompt string
		ok     bool
	}{
		{"!edit make it blue", "make it blue", true},
		{"!EDIT  make it blue  ", "make it blue", true},
		{"!edit", "", true},
		{"!edit   ", "", true},
		{"hello !edit", "", false},
		{"!ed", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			prompt, ok := ParseCommand(tt.text, "!edit")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.prompt, prompt)
		})
	}
}

func TestChannelEditOpensThread(t *testing.T) {
	env := setupRouter(t)
	ctx := context.Background()

	err := env.handler.HandleMessage(ctx, &IncomingMessage{
		Text:      "!edit make it blue",
		UserID:    "U1",
		UserName:  "alice",
		ChannelID: "C1",
		TS:        "100.1",
		Files:     photo(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Image Edit: make it blue"}, env.chat.threads)

	require.Len(t, env.editor.requests, 1)
	req := env.editor.requests[0]
	assert.Equal(t, "100.1", req.ConversationID)
	assert.Equal(t, "make it blue", req.Prompt)
	assert.Equal(t, photo(), req.Attachments)

	assert.Equal(t, []string{ChannelProcessingText}, env.chat.surface("C1", "100.1").texts)

	entries := env.log.Entries("100.1")
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].Author)
	assert.Equal(t, "!edit make it blue", entries[0].Content)
	assert.Equal(t, "100.1", entries[0].MessageID)
	assert.Equal(t, "editbot", entries[1].Author)
	assert.Equal(t, ChannelProcessingText, entries[1].Content)
}

func TestChannelEditMissingPrompt(t *testing.T) {
	env := setupRouter(t)

	err := env.handler.HandleMessage(context.Background(), &IncomingMessage{
		Text:      "!edit",
		UserName:  "alice",
		ChannelID: "C1",
		TS:        "100.1",
		Files:     photo(),
	})
	require.NoError(t, err)

	assert.Empty(t, env.chat.threads)
	assert.Empty(t, env.editor.requests)
	assert.Equal(t, []string{"Please provide editing instructions after the !edit command."},
		env.chat.surface("C1", "").texts)

	entries := env.log.Entries("C1")
	require.Len(t, entries, 1)
	assert.Equal(t, "editbot", entries[0].Author)
}

func TestChannelMessagesIgnored(t *testing.T) {
	tests := []struct {
		name string
		msg  *IncomingMessage
	}{
		{"plain text", &IncomingMessage{Text: "hello", ChannelID: "C1", TS: "1"}},
		{"image without command", &IncomingMessage{Text: "look", ChannelID: "C1", TS: "1", Files: photo()}},
		{"command without attachments", &IncomingMessage{Text: "!edit make it blue", ChannelID: "C1", TS: "1"}},
		{"bot message", &IncomingMessage{Text: "!edit make it blue", ChannelID: "C1", TS: "1", IsBot: true, Files: photo()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupRouter(t)
			require.NoError(t, env.handler.HandleMessage(context.Background(), tt.msg))

			assert.Empty(t, env.chat.threads)
			assert.Empty(t, env.editor.requests)
			assert.Zero(t, env.log.Len())
		})
	}
}

func TestThreadMessageLoggedPassively(t *testing.T) {
	env := setupRouter(t)

	err := env.handler.HandleMessage(context.Background(), &IncomingMessage{
		Text:      "nice result",
		UserName:  "bob",
		ChannelID: "C1",
		TS:        "100.5",
		ThreadTS:  "100.1",
	})
	require.NoError(t, err)

	assert.Empty(t, env.editor.requests)
	assert.Empty(t, env.chat.surface("C1", "100.1").texts)

	entries := env.log.Entries("100.1")
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].Author)
	assert.Equal(t, "nice result", entries[0].Content)
	assert.Equal(t, "100.5", entries[0].MessageID)
}

func TestThreadEditWithoutAttachmentsIsPassive(t *testing.T) {
	env := setupRouter(t)

	err := env.handler.HandleMessage(context.Background(), &IncomingMessage{
		Text:      "!edit make it red",
		UserName:  "bob",
		ChannelID: "C1",
		TS:        "100.5",
		ThreadTS:  "100.1",
	})
	require.NoError(t, err)

	assert.Empty(t, env.editor.requests)
	assert.Len(t, env.log.Entries("100.1"), 1)
}

func TestThreadEdit(t *testing.T) {
	env := setupRouter(t)

	err := env.handler.HandleMessage(context.Background(), &IncomingMessage{
		Text:      "!Edit make it red",
		UserName:  "bob",
		ChannelID: "C1",
		TS:        "100.5",
		ThreadTS:  "100.1",
		Files:     photo(),
	})
	require.NoError(t, err)

	assert.Empty(t, env.chat.threads)
	require.Len(t, env.editor.requests, 1)
	assert.Equal(t, "100.1", env.editor.requests[0].ConversationID)
	assert.Equal(t, "make it red", env.editor.requests[0].Prompt)
	assert.Equal(t, []string{ThreadProcessingText}, env.chat.surface("C1", "100.1").texts)

	entries := env.log.Entries("100.1")
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[0].Author)
	assert.Equal(t, ThreadProcessingText, entries[1].Content)
}

func TestThreadParentMessageIsChannelLevel(t *testing.T) {
	env := setupRouter(t)

	// Slack repeats the parent's own ts as thread_ts once a thread exists
	err := env.handler.HandleMessage(context.Background(), &IncomingMessage{
		Text:      "!edit make it blue",
		UserName:  "alice",
		ChannelID: "C1",
		TS:        "100.1",
		ThreadTS:  "100.1",
		Files:     photo(),
	})
	require.NoError(t, err)

	assert.Len(t, env.chat.threads, 1)
	assert.Len(t, env.editor.requests, 1)
}

func TestTranscriptSurvivesShutdown(t *testing.T) {
	env := setupRouter(t)
	fileLog := storage.NewFileLog(t.TempDir())
	env.handler.log = fileLog

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.handler.HandleMessage(ctx, &IncomingMessage{
		Text:      "nice result",
		UserName:  "bob",
		ChannelID: "C1",
		TS:        "100.5",
		ThreadTS:  "100.1",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(fileLog.Root(), "100.1", storage.LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "nice result")
}

func TestHandleMessageErrors(t *testing.T) {
	t.Run("thread creation", func(t *testing.T) {
		env := setupRouter(t)
		env.chat.createErr = errors.New("channel_not_found")

		err := env.handler.HandleMessage(context.Background(), &IncomingMessage{
			Text: "!edit make it blue", ChannelID: "C1", TS: "100.1", Files: photo(),
		})
		require.ErrorContains(t, err, "channel_not_found")
		assert.Empty(t, env.editor.requests)
	})

	t.Run("editor", func(t *testing.T) {
		env := setupRouter(t)
		env.editor.err = errors.New("disk full")

		err := env.handler.HandleMessage(context.Background(), &IncomingMessage{
			Text: "!edit make it blue", ChannelID: "C1", TS: "100.1", Files: photo(),
		})
		require.ErrorContains(t, err, "disk full")
	})
}

func TestThreadName(t *testing.T) {
	assert.Equal(t, "make it blue", ThreadName("make it blue"))
	assert.Equal(t, "exactly twenty chars", ThreadName("exactly twenty chars"))
	assert.Equal(t, "turn the sky into a ...", ThreadName("turn the sky into a sunset"))
	assert.Equal(t, strings.Repeat("é", 20)+"...", ThreadName(strings.Repeat("é", 22)))
	assert.Equal(t, "Image Edit: turn the sky into a ...", ThreadTitle("turn the sky into a sunset"))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "*bold*", FormatBold("bold"))
	assert.Equal(t, ":x: *Error:* Sorry, I encountered an error: boom", FormatError(errors.New("boom")))
	assert.Equal(t, "abc", TruncateText("abc", 3))
	assert.Equal(t, "ab...", TruncateText("abc", 2))
}
