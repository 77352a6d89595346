package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MemoryLog is an in-memory ConversationLog used by tests and dry runs.
type MemoryLog struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	root    string
	now     func() time.Time
}

// NewMemoryLog creates a new in-memory log. Artifacts still go to disk under root.
func NewMemoryLog(root string) *MemoryLog {
	return &MemoryLog{
		entries: make(map[string][]Entry),
		root:    root,
		now:     time.Now,
	}
}

// Append stores an entry for the conversation.
func (l *MemoryLog) Append(ctx context.Context, conversationID, author, content, messageID string) error {
	if err := validateID(conversationID); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[conversationID] = append(l.entries[conversationID], Entry{
		Timestamp: l.now(),
		Author:    author,
		Content:   content,
		MessageID: messageID,
	})
	return nil
}

// Dir returns the artifact directory for a conversation.
func (l *MemoryLog) Dir(conversationID string) (string, error) {
	if err := validateID(conversationID); err != nil {
		return "", err
	}
	dir := filepath.Join(l.root, conversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Entries returns a copy of the entries recorded for a conversation.
func (l *MemoryLog) Entries(conversationID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries[conversationID]))
	copy(out, l.entries[conversationID])
	return out
}

// Len returns the number of conversations in the log.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
