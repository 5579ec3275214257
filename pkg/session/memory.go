package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory, for tests and single-node
// development setups.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	byUser   map[string]map[string]bool
	now      func() time.Time
}

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		byUser:   make(map[string]map[string]bool),
		now:      time.Now,
	}
}

func (s *MemoryStore) Set(_ context.Context, session *Session, ttl time.Duration) error {
	copied := *session
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = memoryEntry{session: &copied, expiresAt: s.now().Add(ttl)}
	if s.byUser[session.UserID] == nil {
		s.byUser[session.UserID] = make(map[string]bool)
	}
	s.byUser[session.UserID][session.ID] = true
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || s.now().After(entry.expiresAt) {
		return nil, nil
	}
	copied := *entry.session
	return &copied, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[id]; ok {
		delete(s.byUser[entry.session.UserID], id)
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) SessionIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) CleanupExpired(context.Context) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			delete(s.byUser[entry.session.UserID], id)
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
