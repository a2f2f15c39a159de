package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
)

// SessionStorage persists search sessions, including their metric history
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSessionStorage creates a badgerhold-backed session store
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStore {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SessionStorage) Get(ctx context.Context, sessionID string) (*models.SearchSession, error) {
	var session models.SearchSession
	err := s.db.Store().Get(sessionID, &session)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (s *SessionStorage) Put(ctx context.Context, session *models.SearchSession) error {
	if session == nil || session.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if err := s.db.Store().Upsert(session.SessionID, session); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.SessionID, err)
	}
	return nil
}

func (s *SessionStorage) Delete(ctx context.Context, sessionID string) error {
	err := s.db.Store().Delete(sessionID, &models.SearchSession{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return models.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// List returns all sessions, most recently updated first
func (s *SessionStorage) List(ctx context.Context) ([]models.SearchSession, error) {
	var sessions []models.SearchSession
	err := s.db.Store().Find(&sessions, badgerhold.Where("SessionID").Ne("").SortBy("UpdatedAt").Reverse())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}
