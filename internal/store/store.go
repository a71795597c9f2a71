package store

import (
	"errors"

	"github.com/calvinwijaya/solitaire-be/internal/game"
)

// ErrNotFound is returned when no session matches the requested id.
var ErrNotFound = errors.New("session not found")

// Store defines the interface for session storage
type Store interface {
	// SaveSession adds or replaces a session
	SaveSession(s *game.Session) error

	// GetSession retrieves a session by ID
	GetSession(id string) (*game.Session, error)

	// PlayerSessions retrieves all sessions owned by a player
	PlayerSessions(playerID string) ([]*game.Session, error)

	// DeleteSession removes a session from the store
	DeleteSession(id string) error

	// ListSessions returns all sessions in the store
	ListSessions() ([]*game.Session, error)
}
