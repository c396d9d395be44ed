package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryConversationStore 是 ConversationStore 的内存实现
// 适合开发和测试。数据在重新启动时丢失。
type MemoryConversationStore struct {
	conversations map[string][]*Message // conversationID -> append-order messages
	mu            sync.RWMutex
	closed        bool
}

// NewMemoryConversationStore 创建内存会话存储
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[string][]*Message),
	}
}

// Ping 检查存储是否可用
func (s *MemoryConversationStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close 关闭存储
func (s *MemoryConversationStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// AppendMessage 追加一条消息
func (s *MemoryConversationStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg == nil || msg.ConversationID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	s.conversations[stored.ConversationID] = append(s.conversations[stored.ConversationID], &stored)
	return nil
}

// GetMessages 按追加顺序返回会话消息
func (s *MemoryConversationStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	msgs := s.conversations[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

// DeleteConversation 删除整个会话日志
func (s *MemoryConversationStore) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.conversations, conversationID)
	return nil
}
