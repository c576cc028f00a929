package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]*Context
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[string]*Context)}
}

func (s *MemoryStore) Load(_ context.Context, tenantID, userID string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.contexts[contextKey(tenantID, userID)]; ok {
		cp := *c
		cp.History = append([]Message(nil), c.History...)
		return &cp, nil
	}
	return &Context{
		TenantID:  tenantID,
		UserID:    userID,
		History:   []Message{},
		UpdatedAt: time.Now(),
	}, nil
}

func (s *MemoryStore) Save(_ context.Context, c *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	cp.History = append([]Message(nil), c.History...)
	s.contexts[contextKey(c.TenantID, c.UserID)] = &cp
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, tenantID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, contextKey(tenantID, userID))
	return nil
}
