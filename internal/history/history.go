package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
)

const (
	keyPrefix = "chat:history:"

	defaultMaxEntries = 50
	defaultTTL        = 24 * time.Hour
)

// Message is one turn of a chat session.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Store keeps per-session conversation history in a redis list, newest at
// the tail. Writes trim the list to maxEntries and refresh the TTL, so idle
// sessions expire on their own.
type Store struct {
	rdb        *redis.Client
	maxEntries int64
	ttl        time.Duration
}

func NewStore(rdb *redis.Client, maxEntries int, ttl time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, maxEntries: int64(maxEntries), ttl: ttl}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

// Append adds one message to the session's history. Push, trim, and expire
// run in a single pipeline so concurrent writers interleave whole messages,
// never partial updates.
func (s *Store) Append(ctx context.Context, sessionID string, msg Message) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id must not be blank")
	}
	if msg.Role == "" {
		return fmt.Errorf("message role must not be blank")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding history message: %w", err)
	}

	k := key(sessionID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, data)
		pipe.LTrim(ctx, k, -s.maxEntries, -1)
		pipe.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending history for session %s: %w", sessionID, err)
	}
	return nil
}

// Snapshot returns the session's messages oldest first. Entries that fail to
// decode are skipped; one corrupt record must not take the session hostage.
func (s *Store) Snapshot(ctx context.Context, sessionID string) ([]Message, error) {
	raw, err := s.rdb.LRange(ctx, key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history for session %s: %w", sessionID, err)
	}

	messages := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			logger.Warn("Skipping corrupt history entry", "session", sessionID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Clear drops the whole session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("clearing history for session %s: %w", sessionID, err)
	}
	return nil
}

// Format renders messages as prompt context lines.
func Format(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			b.WriteString("User: ")
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString(msg.Role + ": ")
		}
		b.WriteString(msg.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
