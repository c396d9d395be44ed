package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// messageRecord is the GORM row model for a logged message.
type messageRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	ConversationID string `gorm:"index;size:128;not null"`
	Seq            uint64 `gorm:"autoIncrement;uniqueIndex"`
	Role           string `gorm:"size:16"`
	Content        string
	AgentID        string `gorm:"size:128"`
	WorkflowID     string `gorm:"size:128"`
	Metadata       string // JSON-encoded map
	CreatedAt      time.Time
}

func (messageRecord) TableName() string { return "conversation_messages" }

// GormConversationStore is a SQLite-backed implementation of
// ConversationStore using GORM. Suitable for single-node deployments
// that need the log to survive restarts. The pure-Go sqlite driver keeps
// the build cgo-free.
type GormConversationStore struct {
	db *gorm.DB
}

// NewGormConversationStore opens (and migrates) the SQLite database at
// path. Use ":memory:" for an ephemeral store.
func NewGormConversationStore(path string) (*GormConversationStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &GormConversationStore{db: db}, nil
}

// Ping checks if the store is healthy.
func (s *GormConversationStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database.
func (s *GormConversationStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendMessage appends a single message.
func (s *GormConversationStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg == nil || msg.ConversationID == "" {
		return ErrInvalidInput
	}

	rec := messageRecord{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		AgentID:        msg.AgentID,
		WorkflowID:     msg.WorkflowID,
		CreatedAt:      msg.CreatedAt,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		rec.Metadata = string(data)
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// GetMessages returns conversation messages in append order.
func (s *GormConversationStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var recs []messageRecord
	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC")
	if limit > 0 {
		// Keep the newest `limit` rows but return them oldest first.
		sub := s.db.Model(&messageRecord{}).
			Select("seq").
			Where("conversation_id = ?", conversationID).
			Order("seq DESC").
			Limit(limit)
		q = q.Where("seq IN (?)", sub)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	msgs := make([]*Message, 0, len(recs))
	for _, rec := range recs {
		m := &Message{
			ID:             rec.ID,
			ConversationID: rec.ConversationID,
			Role:           Role(rec.Role),
			Content:        rec.Content,
			AgentID:        rec.AgentID,
			WorkflowID:     rec.WorkflowID,
			CreatedAt:      rec.CreatedAt,
		}
		if rec.Metadata != "" {
			if err := json.Unmarshal([]byte(rec.Metadata), &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// DeleteConversation removes a conversation's entire log.
func (s *GormConversationStore) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&messageRecord{}).Error
}
