package persistence

import "fmt"

// Supported backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// NewConversationStore creates a ConversationStore based on the
// configuration.
func NewConversationStore(cfg Config) (ConversationStore, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryConversationStore(), nil
	case BackendRedis:
		return NewRedisConversationStore(cfg)
	case BackendSQLite:
		return NewGormConversationStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported conversation store backend: %s", cfg.Backend)
	}
}

// MustNewConversationStore creates a ConversationStore or panics on error.
//
// WARNING: only use during application initialization (main or init). For
// runtime store creation, use NewConversationStore instead.
func MustNewConversationStore(cfg Config) ConversationStore {
	store, err := NewConversationStore(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create conversation store: %v", err))
	}
	return store
}
