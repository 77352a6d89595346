// Package storage provides the append-only conversation transcript.
package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// LogFileName is the transcript file kept in every conversation directory.
const LogFileName = "conversations.jsonl"

// ErrInvalidConversationID is returned for ids that cannot name a directory under the log root.
var ErrInvalidConversationID = errors.New("invalid conversation id")

// Entry is one line of a conversation transcript.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`            // Capture time
	Author    string    `json:"author"`               // User name, bot name or provider tag
	Content   string    `json:"content"`              // Message text or artifact path
	MessageID string    `json:"message_id,omitempty"` // Chat message the entry refers to
}

// ConversationLog records messages per conversation (a thread or a channel).
type ConversationLog interface {
	// Append writes one complete entry stamped with the current time.
	// Safe for concurrent use, including for the same conversation.
	Append(ctx context.Context, conversationID, author, content, messageID string) error

	// Dir returns the storage directory for a conversation, creating it if absent.
	Dir(conversationID string) (string, error)
}

// validateID rejects ids that are empty or would escape the log root.
func validateID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) || filepath.IsAbs(id) || strings.Contains(id, "..") {
		return ErrInvalidConversationID
	}
	return nil
}
