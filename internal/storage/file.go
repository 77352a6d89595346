package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a contended transcript lock is retried.
const lockRetryDelay = 5 * time.Millisecond

// FileLog writes one JSON line per entry to <root>/<conversation>/conversations.jsonl.
type FileLog struct {
	root string
	now  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileLog creates a file-backed conversation log rooted at root.
func NewFileLog(root string) *FileLog {
	return &FileLog{
		root:  root,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// Root returns the directory holding all conversations.
func (l *FileLog) Root() string {
	return l.root
}

// Dir returns the storage directory for a conversation, creating it if absent.
func (l *FileLog) Dir(conversationID string) (string, error) {
	if err := validateID(conversationID); err != nil {
		return "", err
	}
	dir := filepath.Join(l.root, conversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create conversation directory: %w", err)
	}
	return dir, nil
}

// Append writes a single complete record. The line is encoded up front and written
// with one call while holding both the in-process and the on-disk lock, so concurrent
// appends never interleave.
func (l *FileLog) Append(ctx context.Context, conversationID, author, content, messageID string) error {
	dir, err := l.Dir(conversationID)
	if err != nil {
		return err
	}

	line, err := json.Marshal(Entry{
		Timestamp: l.now(),
		Author:    author,
		Content:   content,
		MessageID: messageID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}
	line = append(line, '\n')

	mu := l.conversationLock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	path := filepath.Join(dir, LogFileName)
	fl := flock.New(path + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock %s", path)
	}
	defer func() { _ = fl.Unlock() }()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return f.Close()
}

// conversationLock returns the mutex serialising appends for one conversation.
func (l *FileLog) conversationLock(conversationID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	mu, ok := l.locks[conversationID]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[conversationID] = mu
	}
	return mu
}
