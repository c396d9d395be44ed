// Package persistence provides the conversation log the workflow engine
// writes through. The engine treats every store as an append-only sink:
// it never reads back what it wrote within the same run, and append
// failures are logged by the caller, never propagated into a workflow.
package persistence

import (
	"context"
	"errors"
	"time"
)

// Store lifecycle shared by all implementations.
type Store interface {
	// Ping checks whether the store is reachable and healthy.
	Ping(ctx context.Context) error
	// Close releases the store's resources.
	Close() error
}

// ConversationStore persists the message log of a conversation.
type ConversationStore interface {
	Store

	// AppendMessage appends a single message to the conversation log.
	AppendMessage(ctx context.Context, msg *Message) error

	// GetMessages returns up to limit messages of a conversation in append
	// order. limit <= 0 means no limit.
	GetMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// DeleteConversation removes a conversation's entire log.
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Role of a logged message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation log.
type Message struct {
	// ID is the unique identifier of the message.
	ID string `json:"id"`

	// ConversationID identifies the owning conversation.
	ConversationID string `json:"conversation_id"`

	// Role is the message role (user, assistant, system).
	Role Role `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// AgentID names the agent that produced the message, when any.
	AgentID string `json:"agent_id,omitempty"`

	// WorkflowID names the workflow run the message belongs to, when any.
	WorkflowID string `json:"workflow_id,omitempty"`

	// Metadata carries additional structured data.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the message was created.
	CreatedAt time.Time `json:"created_at"`
}

// Config 存储配置
type Config struct {
	// Backend 选择实现：memory / redis / sqlite
	Backend string `yaml:"backend"`

	// Redis 连接配置（Backend 为 redis 时使用）
	Redis RedisConfig `yaml:"redis"`

	// SQLitePath 数据库文件路径（Backend 为 sqlite 时使用）
	SQLitePath string `yaml:"sqlite_path"`

	// TTL 会话日志保留时间（零值表示不过期，仅 redis 支持）
	TTL time.Duration `yaml:"ttl"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Store errors.
var (
	ErrStoreClosed  = errors.New("persistence: store is closed")
	ErrInvalidInput = errors.New("persistence: invalid input")
	ErrNotFound     = errors.New("persistence: not found")
)
