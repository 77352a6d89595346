// Package slack provides Slack bot integration using Socket Mode.
package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/ireland-samantha/editbot/internal/config"
	"github.com/ireland-samantha/editbot/internal/editing"
)

// MessageHandler is called for every message the bot can see.
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// IncomingMessage represents a message received by the bot.
type IncomingMessage struct {
	// Text is the message content
	Text string
	// UserID is the Slack user ID of the sender
	UserID string
	// UserName is the sender's display name, used as the transcript author
	UserName string
	// ChannelID is the channel where the message was sent
	ChannelID string
	// TS is the message timestamp, which Slack uses as the message id
	TS string
	// ThreadTS is the parent timestamp when the message is a thread reply
	ThreadTS string
	// IsBot is set for messages authored by bots, including this one
	IsBot bool
	// Files are the message attachments
	Files []editing.Attachment
}

// InThread reports whether the message is a reply inside a thread.
func (m *IncomingMessage) InThread() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS
}

// Bot manages the Slack connection and event handling.
type Bot struct {
	client       *slack.Client
	socketClient *socketmode.Client
	botUserID    string
	botName      string
	logger       *slog.Logger

	users sync.Map
	wg    sync.WaitGroup
}

// NewBot creates a new Slack bot instance.
func NewBot(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Bot, error) {
	client := slack.New(
		cfg.SlackBotToken,
		slack.OptionAppLevelToken(cfg.SlackAppToken),
	)

	socketClient := socketmode.New(
		client,
		socketmode.OptionDebug(cfg.LogLevel == "debug"),
	)

	// Bot user ID identifies our own messages
	authTest, err := client.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with Slack: %w", err)
	}

	botName := authTest.User
	if botName == "" {
		botName = cfg.BotName
	}

	return &Bot{
		client:       client,
		socketClient: socketClient,
		botUserID:    authTest.UserID,
		botName:      botName,
		logger:       logger,
	}, nil
}

// Name returns the bot's user name, used as the transcript author for its notices.
func (b *Bot) Name() string {
	return b.botName
}

// Run starts the bot and blocks until the context is cancelled. In-flight messages are
// allowed to finish before it returns.
func (b *Bot) Run(ctx context.Context, handler MessageHandler) error {
	go b.handleEvents(ctx, handler)

	b.logger.Info("starting Slack bot", "bot_user_id", b.botUserID, "bot_name", b.botName)
	err := b.socketClient.RunContext(ctx)
	b.wg.Wait()
	return err
}

// handleEvents processes incoming Socket Mode events.
func (b *Bot) handleEvents(ctx context.Context, handler MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-b.socketClient.Events:
			b.handleEvent(ctx, evt, handler)
		}
	}
}

// handleEvent routes a single event to the appropriate handler.
func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event, handler MessageHandler) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		b.handleEventsAPI(ctx, evt, handler)
	case socketmode.EventTypeSlashCommand:
		b.handleSlashCommand(evt)
	case socketmode.EventTypeConnecting:
		b.logger.Info("connecting to Slack...")
	case socketmode.EventTypeConnected:
		b.logger.Info("connected to Slack")
	case socketmode.EventTypeConnectionError:
		b.logger.Error("connection error", "error", evt.Data)
	}
}

// handleEventsAPI processes Events API events.
func (b *Bot) handleEventsAPI(ctx context.Context, evt socketmode.Event, handler MessageHandler) {
	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}

	b.socketClient.Ack(*evt.Request)

	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	if msgEvent, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		b.handleMessageEvent(ctx, msgEvent, handler)
	}
}

// handleSlashCommand answers slash commands in the acknowledgement.
func (b *Bot) handleSlashCommand(evt socketmode.Event) {
	cmd, ok := evt.Data.(slack.SlashCommand)
	if !ok {
		return
	}

	reply, ok := CommandReply(cmd.Command)
	if !ok {
		b.socketClient.Ack(*evt.Request)
		return
	}

	b.logger.Debug("answering slash command", "command", cmd.Command, "user", cmd.UserID)
	b.socketClient.Ack(*evt.Request, map[string]interface{}{
		"response_type": "ephemeral",
		"text":          reply,
	})
}

// handleMessageEvent converts a message event and dispatches it.
func (b *Bot) handleMessageEvent(ctx context.Context, evt *slackevents.MessageEvent, handler MessageHandler) {
	// Edits, deletions and joins carry subtypes; uploads with a caption are file_share
	if evt.SubType != "" && evt.SubType != "file_share" {
		return
	}

	msg := &IncomingMessage{
		Text:      evt.Text,
		UserID:    evt.User,
		ChannelID: evt.Channel,
		TS:        evt.TimeStamp,
		ThreadTS:  evt.ThreadTimeStamp,
		IsBot:     evt.BotID != "" || evt.User == b.botUserID,
		Files:     make([]editing.Attachment, 0, len(evt.Files)),
	}
	for _, f := range evt.Files {
		url := f.URLPrivateDownload
		if url == "" {
			url = f.URLPrivate
		}
		msg.Files = append(msg.Files, editing.Attachment{
			ID:          f.ID,
			Name:        f.Name,
			URL:         url,
			ContentType: f.Mimetype,
		})
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if !msg.IsBot {
			msg.UserName = b.userName(ctx, msg.UserID)
		}
		b.processMessage(ctx, msg, handler)
	}()
}

// processMessage sends a message to the handler and reports handler failures.
func (b *Bot) processMessage(ctx context.Context, msg *IncomingMessage, handler MessageHandler) {
	b.logger.Debug("processing message",
		"user", msg.UserID,
		"channel", msg.ChannelID,
		"text", msg.Text,
		"files", len(msg.Files),
	)

	if err := handler(ctx, msg); err != nil {
		b.logger.Error("handler error", "error", err, "channel", msg.ChannelID, "ts", msg.TS)

		threadTS := msg.ThreadTS
		if threadTS == "" {
			threadTS = msg.TS
		}
		if _, err := b.Conversation(msg.ChannelID, threadTS).SendText(context.WithoutCancel(ctx), FormatError(err)); err != nil {
			b.logger.Error("failed to send message", "error", err)
		}
	}
}

// userName resolves a user ID to a display name, falling back to the ID.
func (b *Bot) userName(ctx context.Context, userID string) string {
	if name, ok := b.users.Load(userID); ok {
		return name.(string)
	}

	user, err := b.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		b.logger.Warn("failed to look up user", "user", userID, "error", err)
		return userID
	}

	name := user.Profile.DisplayName
	if name == "" {
		name = user.Name
	}
	b.users.Store(userID, name)
	return name
}

// CreateThread opens a thread on the parent message by posting the thread's title as
// the first reply. Slack threads are identified by their parent timestamp.
func (b *Bot) CreateThread(ctx context.Context, channelID, parentTS, name string) (string, error) {
	_, _, err := b.client.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(FormatBold(name), false),
		slack.MsgOptionTS(parentTS),
	)
	if err != nil {
		return "", err
	}
	return parentTS, nil
}

// Conversation returns a surface bound to a channel or thread.
func (b *Bot) Conversation(channelID, threadTS string) editing.Surface {
	return &conversation{client: b.client, channelID: channelID, threadTS: threadTS, logger: b.logger}
}

// conversation posts into one channel or thread.
type conversation struct {
	client    *slack.Client
	channelID string
	threadTS  string
	logger    *slog.Logger
}

func (c *conversation) SendText(ctx context.Context, text string) (string, error) {
	options := []slack.MsgOption{
		slack.MsgOptionText(text, false),
	}
	if c.threadTS != "" {
		options = append(options, slack.MsgOptionTS(c.threadTS))
	}

	_, ts, err := c.client.PostMessageContext(ctx, c.channelID, options...)
	return ts, err
}

// SendFile uploads a file into the conversation and returns the ts of the message that
// shares it. When Slack has not recorded the share yet the file id is returned.
func (c *conversation) SendFile(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	summary, err := c.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		File:            path,
		FileSize:        int(info.Size()),
		Filename:        filepath.Base(path),
		Title:           filepath.Base(path),
		Channel:         c.channelID,
		ThreadTimestamp: c.threadTS,
	})
	if err != nil {
		return "", err
	}

	file, _, _, err := c.client.GetFileInfoContext(ctx, summary.ID, 0, 0)
	if err != nil {
		c.logger.Warn("failed to resolve file share", "file", summary.ID, "error", err)
		return summary.ID, nil
	}
	if ts := shareTS(file, c.channelID); ts != "" {
		return ts, nil
	}
	return summary.ID, nil
}

// shareTS finds the ts of the message that shared file into channelID.
func shareTS(file *slack.File, channelID string) string {
	if file == nil {
		return ""
	}
	for _, shares := range []map[string][]slack.ShareFileInfo{file.Shares.Public, file.Shares.Private} {
		for _, share := range shares[channelID] {
			if share.Ts != "" {
				return share.Ts
			}
		}
	}
	return ""
}

func (c *conversation) Download(ctx context.Context, a editing.Attachment) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.client.GetFileContext(ctx, a.URL, &buf); err != nil {
		var statusErr slack.StatusCodeError
		if errors.As(err, &statusErr) {
			return nil, &editing.TransportError{StatusCode: statusErr.Code, Err: err}
		}
		return nil, err
	}
	return buf.Bytes(), nil
}
