package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConversationStore is a Redis-based implementation of
// ConversationStore. Suitable for distributed production deployments.
// Each conversation is a Redis list holding JSON-encoded messages in
// append order.
type RedisConversationStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisConversationStore creates a new Redis-based conversation store.
func NewRedisConversationStore(cfg Config) (*RedisConversationStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisConversationStore{
		client:    client,
		keyPrefix: "orchestral:conv:",
		ttl:       cfg.TTL,
	}, nil
}

// NewRedisConversationStoreWithClient wraps an existing client. Used by
// tests and by callers that manage their own connection pool.
func NewRedisConversationStoreWithClient(client *redis.Client, ttl time.Duration) *RedisConversationStore {
	return &RedisConversationStore{
		client:    client,
		keyPrefix: "orchestral:conv:",
		ttl:       ttl,
	}
}

// Close closes the store.
func (s *RedisConversationStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy.
func (s *RedisConversationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// conversationKey returns the Redis key for a conversation's message list.
func (s *RedisConversationStore) conversationKey(conversationID string) string {
	return s.keyPrefix + conversationID
}

// AppendMessage appends a single message to the conversation list.
func (s *RedisConversationStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg == nil || msg.ConversationID == "" {
		return ErrInvalidInput
	}

	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := s.conversationKey(stored.ConversationID)

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// GetMessages returns conversation messages in append order.
func (s *RedisConversationStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raw, err := s.client.LRange(ctx, s.conversationKey(conversationID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	msgs := make([]*Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

// DeleteConversation removes a conversation's entire log.
func (s *RedisConversationStore) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.client.Del(ctx, s.conversationKey(conversationID)).Err()
}
