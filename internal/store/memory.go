package store

import (
	"sync"

	"github.com/calvinwijaya/solitaire-be/internal/game"
)

// MemoryStore is an in-memory implementation of session storage
type MemoryStore struct {
	sessions map[string]*game.Session
	players  map[string][]*game.Session
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*game.Session),
		players:  make(map[string][]*game.Session),
	}
}

// SaveSession saves a session to the store
func (m *MemoryStore) SaveSession(s *game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID()]; exists {
		m.sessions[s.ID()] = s
		return nil
	}
	m.sessions[s.ID()] = s

	if playerID := s.PlayerID(); playerID != "" {
		m.players[playerID] = append(m.players[playerID], s)
	}
	return nil
}

// GetSession retrieves a session by ID
func (m *MemoryStore) GetSession(id string) (*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return s, nil
}

// PlayerSessions retrieves all sessions for a player, oldest first
func (m *MemoryStore) PlayerSessions(playerID string) ([]*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := m.players[playerID]
	return append([]*game.Session{}, sessions...), nil
}

// DeleteSession removes a session from the store
func (m *MemoryStore) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[id]
	if !exists {
		return ErrNotFound
	}
	delete(m.sessions, id)

	playerID := s.PlayerID()
	owned := m.players[playerID]
	for i, o := range owned {
		if o.ID() == id {
			m.players[playerID] = append(owned[:i], owned[i+1:]...)
			break
		}
	}
	if len(m.players[playerID]) == 0 {
		delete(m.players, playerID)
	}
	return nil
}

// ListSessions returns all sessions in the store
func (m *MemoryStore) ListSessions() ([]*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*game.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions, nil
}
