// Package memory holds process-local implementations of the storage contracts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
)

// SessionStore keeps sessions in a map. Values are cloned on the way in and out.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]models.SearchSession
}

// NewSessionStore creates an empty in-memory session store
func NewSessionStore() interfaces.SessionStore {
	return &SessionStore{sessions: make(map[string]models.SearchSession)}
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.SearchSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	clone := session.Clone()
	return &clone, nil
}

func (s *SessionStore) Put(ctx context.Context, session *models.SearchSession) error {
	if session == nil || session.SessionID == "" {
		return fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session.Clone()
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return models.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *SessionStore) List(ctx context.Context) ([]models.SearchSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SearchSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
