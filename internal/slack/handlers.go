// Package slack provides message routing for the image edit bot.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ireland-samantha/editbot/internal/editing"
	"github.com/ireland-samantha/editbot/internal/metrics"
	"github.com/ireland-samantha/editbot/internal/storage"
)

// Bot notices.
const (
	ThreadProcessingText  = "Processing your image request..."
	ChannelProcessingText = "Processing your image with both OpenAI and Gemini editors. This may take a moment..."
)

// PingCommand is the health check slash command.
const PingCommand = "/ping"

// CommandReply returns the answer to a slash command, if the bot knows it.
func CommandReply(command string) (string, bool) {
	switch command {
	case PingCommand:
		return "Pong!", true
	default:
		return "", false
	}
}

// MissingPromptText is sent when the command has no instructions.
func MissingPromptText(command string) string {
	return fmt.Sprintf("Please provide editing instructions after the %s command.", command)
}

// ChatClient is the part of the chat platform the router needs.
type ChatClient interface {
	// Conversation returns a surface posting into a channel, or into a thread when
	// threadTS is set.
	Conversation(channelID, threadTS string) editing.Surface
	// CreateThread opens a thread on a message and returns the thread's id.
	CreateThread(ctx context.Context, channelID, parentTS, name string) (string, error)
}

// Editor runs edit requests.
type Editor interface {
	Process(ctx context.Context, req editing.Request, out editing.Surface) ([]editing.Outcome, error)
}

// Handler classifies incoming messages and drives edits.
type Handler struct {
	chat    ChatClient
	log     storage.ConversationLog
	editor  Editor
	metrics metrics.Metrics
	command string
	botName string
	logger  *slog.Logger
}

// NewHandler creates a new message handler.
func NewHandler(
	chat ChatClient,
	log storage.ConversationLog,
	editor Editor,
	metricsService metrics.Metrics,
	command string,
	botName string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		chat:    chat,
		log:     log,
		editor:  editor,
		metrics: metricsService,
		command: command,
		botName: botName,
		logger:  logger,
	}
}

// HandleMessage processes an incoming message. Only transcript failures and thread
// creation failures are returned; everything else is reported in the conversation.
func (h *Handler) HandleMessage(ctx context.Context, msg *IncomingMessage) error {
	if msg.IsBot {
		return nil
	}

	prompt, isCommand := ParseCommand(msg.Text, h.command)
	isEdit := isCommand && len(msg.Files) > 0

	if msg.InThread() {
		return h.handleThreadMessage(ctx, msg, prompt, isEdit)
	}

	if !isEdit {
		return nil
	}

	if prompt == "" {
		h.metrics.ObserveEditRequest(metrics.RequestMissingPrompt)
		return h.notify(ctx, msg.ChannelID, h.chat.Conversation(msg.ChannelID, ""), MissingPromptText(h.command))
	}

	h.logger.Info("handling edit request",
		"user", msg.UserID,
		"channel", msg.ChannelID,
		"ts", msg.TS,
	)

	threadID, err := h.chat.CreateThread(ctx, msg.ChannelID, msg.TS, ThreadTitle(prompt))
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}

	if err := h.log.Append(context.WithoutCancel(ctx), threadID, msg.UserName, msg.Text, msg.TS); err != nil {
		return err
	}

	out := h.chat.Conversation(msg.ChannelID, threadID)
	if err := h.notify(ctx, threadID, out, ChannelProcessingText); err != nil {
		return err
	}

	return h.edit(ctx, threadID, prompt, msg, out)
}

// handleThreadMessage records every human message in a thread and runs edit commands.
func (h *Handler) handleThreadMessage(ctx context.Context, msg *IncomingMessage, prompt string, isEdit bool) error {
	threadID := msg.ThreadTS

	if err := h.log.Append(context.WithoutCancel(ctx), threadID, msg.UserName, msg.Text, msg.TS); err != nil {
		return err
	}
	if !isEdit {
		return nil
	}

	h.logger.Info("handling edit request in thread",
		"user", msg.UserID,
		"channel", msg.ChannelID,
		"thread", threadID,
	)

	out := h.chat.Conversation(msg.ChannelID, threadID)
	if err := h.notify(ctx, threadID, out, ThreadProcessingText); err != nil {
		return err
	}

	return h.edit(ctx, threadID, prompt, msg, out)
}

func (h *Handler) edit(ctx context.Context, conversationID, prompt string, msg *IncomingMessage, out editing.Surface) error {
	_, err := h.editor.Process(ctx, editing.Request{
		ConversationID: conversationID,
		Prompt:         prompt,
		Attachments:    msg.Files,
	}, out)
	return err
}

// notify sends a bot notice and records it.
func (h *Handler) notify(ctx context.Context, conversationID string, out editing.Surface, text string) error {
	id, err := out.SendText(ctx, text)
	if err != nil {
		h.logger.Error("failed to send notice", "conversation", conversationID, "error", err)
	}
	return h.log.Append(context.WithoutCancel(ctx), conversationID, h.botName, text, id)
}

// ParseCommand reports whether text starts with the command token, compared
// case-insensitively, and returns the trimmed text after it.
func ParseCommand(text, command string) (string, bool) {
	if command == "" || len(text) < len(command) || !strings.EqualFold(text[:len(command)], command) {
		return "", false
	}
	return strings.TrimSpace(text[len(command):]), true
}
