package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"chiba-chatbot/internal/models"
)

const (
	// Redis key prefix for per-user chat history lists
	chatHistoryKeyPrefix = "chat:history:"
)

// ChatHistoryRepository is the append-only store of chat turns per identity.
// The RAG core only writes through it via the answer completion callback.
type ChatHistoryRepository interface {
	Append(ctx context.Context, msg *models.StoredMessage) error
	History(ctx context.Context, email string) ([]models.ChatMessage, error)
	HasHistory(ctx context.Context, email string) (bool, error)
}

// RedisChatHistoryRepository implements ChatHistoryRepository using Redis lists
type RedisChatHistoryRepository struct {
	client *redis.Client
}

// NewRedisChatHistoryRepository creates a new Redis-based chat history repository
func NewRedisChatHistoryRepository(client *redis.Client) *RedisChatHistoryRepository {
	return &RedisChatHistoryRepository{
		client: client,
	}
}

// Append pushes a message onto the end of the user's history
func (r *RedisChatHistoryRepository) Append(ctx context.Context, msg *models.StoredMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return NewChatHistoryRepositoryError("append", msg.Email, err, "failed to marshal message")
	}

	key := chatHistoryKeyPrefix + msg.Email
	if err := r.client.RPush(ctx, key, msgJSON).Err(); err != nil {
		return NewChatHistoryRepositoryError("append", msg.Email, err, "")
	}

	return nil
}

// History returns the full ordered conversation for a user
func (r *RedisChatHistoryRepository) History(ctx context.Context, email string) ([]models.ChatMessage, error) {
	key := chatHistoryKeyPrefix + email

	entries, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, NewChatHistoryRepositoryError("history", email, err, "")
	}

	history := make([]models.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var msg models.StoredMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			// Malformed entries are skipped rather than breaking the whole read
			continue
		}
		history = append(history, msg.ToChatMessage())
	}

	return history, nil
}

// HasHistory reports whether any turns are stored for a user
func (r *RedisChatHistoryRepository) HasHistory(ctx context.Context, email string) (bool, error) {
	n, err := r.client.Exists(ctx, chatHistoryKeyPrefix+email).Result()
	if err != nil {
		return false, NewChatHistoryRepositoryError("has_history", email, err, "")
	}
	return n > 0, nil
}

// ChatHistoryRepositoryError represents errors from the chat history repository
type ChatHistoryRepositoryError struct {
	Operation string
	Email     string
	Err       error
	Message   string
}

func (e *ChatHistoryRepositoryError) Error() string {
	if e.Message != "" {
		return e.Operation + " (" + e.Email + "): " + e.Message
	}
	if e.Err != nil {
		return e.Operation + " (" + e.Email + "): " + e.Err.Error()
	}
	return e.Operation + " (" + e.Email + "): unknown error"
}

func (e *ChatHistoryRepositoryError) Unwrap() error {
	return e.Err
}

// NewChatHistoryRepositoryError creates a new chat history repository error
func NewChatHistoryRepositoryError(operation, email string, err error, message string) *ChatHistoryRepositoryError {
	return &ChatHistoryRepositoryError{
		Operation: operation,
		Email:     email,
		Err:       err,
		Message:   message,
	}
}
