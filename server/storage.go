package server

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// InMemoryStore keeps ephemeral per-browser state: live sessions and auth
// requests awaiting a provider callback.
type InMemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]Session
	authRequests map[string]AuthRequest
}

// NewInMemoryStore constructs the store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:     make(map[string]Session),
		authRequests: make(map[string]AuthRequest),
	}
}

// NewID generates a random identifier.
func (s *InMemoryStore) NewID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte("fallbackid"))
	}
	return hex.EncodeToString(buf)
}

// SaveSession stores or replaces a session.
func (s *InMemoryStore) SaveSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// GetSession retrieves a session by ID.
func (s *InMemoryStore) GetSession(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// DeleteSession removes a session.
func (s *InMemoryStore) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// SaveAuthRequest stores an auth request awaiting callback. Expired entries
// from abandoned flows are cleaned up lazily on each save.
func (s *InMemoryStore) SaveAuthRequest(req AuthRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for state, pending := range s.authRequests {
		if now.After(pending.ExpiresAt) {
			delete(s.authRequests, state)
		}
	}
	s.authRequests[req.State] = req
}

// ConsumeAuthRequest retrieves and removes an auth request. A request can
// be consumed once; expired requests read as absent.
func (s *InMemoryStore) ConsumeAuthRequest(state string) (AuthRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.authRequests[state]
	if !ok {
		return AuthRequest{}, false
	}
	delete(s.authRequests, state)
	if time.Now().After(req.ExpiresAt) {
		return AuthRequest{}, false
	}
	return req, true
}
