package interfaces

import (
	"context"

	"github.com/ternarybob/dinewise/internal/models"
)

// SessionStore is the get/set contract used to restore and persist sessions.
// Get returns models.ErrSessionNotFound for unknown ids.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*models.SearchSession, error)
	Put(ctx context.Context, session *models.SearchSession) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]models.SearchSession, error)
}
