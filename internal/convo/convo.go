// Package convo keeps per-user conversation history: a single JSON-encoded
// message row per user, capped to the most recent messages.
package convo

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// Message roles.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Defaults applied when Config fields are zero.
const (
	DefaultLimit      = 20
	DefaultContentMax = 1000
)

// Metadata annotates a bot message with how the answer was produced.
type Metadata struct {
	Confidence       float64  `json:"confidence,omitempty"`
	Sources          []string `json:"sources,omitempty"`
	ProcessingTimeMs int64    `json:"processingTimeMs,omitempty"`
	Error            bool     `json:"error,omitempty"`
}

// Message is one turn in a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// Store persists one message list per user.
type Store interface {
	Load(ctx context.Context, userID string) ([]Message, error)
	Save(ctx context.Context, userID string, msgs []Message) error
	Delete(ctx context.Context, userID string) error
}

// Config for the Manager.
type Config struct {
	// Limit caps how many messages survive per user. Default 20.
	Limit int
	// ContentMax truncates each message's content, in characters. Default 1000.
	ContentMax int
}

// Manager serializes history updates per user so two concurrent questions
// from the same user cannot lose each other's load-modify-save. Locks are
// striped by user ID; different users rarely contend.
type Manager struct {
	store      Store
	limit      int
	contentMax int
	locks      [32]sync.Mutex
	logger     *slog.Logger
}

// New creates a Manager over store.
func New(store Store, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.ContentMax <= 0 {
		cfg.ContentMax = DefaultContentMax
	}
	return &Manager{
		store:      store,
		limit:      cfg.Limit,
		contentMax: cfg.ContentMax,
		logger:     logger,
	}
}

// Load returns the user's history, oldest first. A user with no history gets
// an empty slice, not an error.
func (m *Manager) Load(ctx context.Context, userID string) ([]Message, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return m.store.Load(ctx, userID)
}

// Append adds messages to the user's history, truncating each content to the
// configured maximum and trimming the history to the most recent messages.
func (m *Manager) Append(ctx context.Context, userID string, msgs ...Message) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if len(msgs) == 0 {
		return nil
	}

	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	history, err := m.store.Load(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading history of %s: %w", userID, err)
	}

	for _, msg := range msgs {
		msg.Content = truncate(msg.Content, m.contentMax)
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		history = append(history, msg)
	}
	if len(history) > m.limit {
		history = history[len(history)-m.limit:]
	}

	if err := m.store.Save(ctx, userID, history); err != nil {
		return fmt.Errorf("saving history of %s: %w", userID, err)
	}
	return nil
}

// Clear forgets the user's history.
func (m *Manager) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	return m.store.Delete(ctx, userID)
}

func (m *Manager) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &m.locks[h.Sum32()%uint32(len(m.locks))]
}

// truncate cuts s to max characters, not bytes, so multi-byte text is never
// split mid-rune.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
