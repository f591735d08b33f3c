package skillchain

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore is an in-memory SessionStore.
type MemorySessionStore struct {
	mutex    sync.Mutex
	sessions map[string]*SessionState
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]*SessionState{}}
}

// Save creates or replaces the session record
func (s *MemorySessionStore) Save(ctx context.Context, state *SessionState) (*SessionState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := state.Copy()
	stored.UpdatedAt = time.Now()
	s.sessions[state.SessionID] = stored
	return stored.Copy(), nil
}

// Load returns the session record, or nil when absent or expired
func (s *MemorySessionStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok || state.Expired(time.Now()) {
		return nil, nil
	}
	return state.Copy(), nil
}

// Clear removes the session record
func (s *MemorySessionStore) Clear(ctx context.Context, sessionID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return ok, nil
}

// CleanupExpired removes expired records
func (s *MemorySessionStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	removed := 0
	for id, state := range s.sessions {
		if state.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
