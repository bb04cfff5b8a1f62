package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"sentinel/internal/model"
)

// SessionStore keeps backend handshake sessions between requests.
type SessionStore interface {
	// Create stores a new session and reports false when the id is taken.
	Create(ctx context.Context, session *model.VerificationSession) (bool, error)
	// Get returns nil, nil for unknown or expired sessions.
	Get(ctx context.Context, sessionID string) (*model.VerificationSession, error)
	Save(ctx context.Context, session *model.VerificationSession) error
	Delete(ctx context.Context, sessionID string) error
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryStore is an in-process SessionStore for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	ttl      time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		ttl:      ttl,
	}
}

func (m *MemoryStore) Create(ctx context.Context, session *model.VerificationSession) (bool, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[session.SessionID]; ok && !m.expired(e) {
		return false, nil
	}
	m.sessions[session.SessionID] = m.entry(data)
	return true, nil
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*model.VerificationSession, error) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if ok && m.expired(e) {
		delete(m.sessions, sessionID)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return nil, nil
	}

	var session model.VerificationSession
	if err := json.Unmarshal(e.data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (m *MemoryStore) Save(ctx context.Context, session *model.VerificationSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions[session.SessionID] = m.entry(data)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) entry(data []byte) memoryEntry {
	e := memoryEntry{data: data}
	if m.ttl > 0 {
		e.expires = time.Now().Add(m.ttl)
	}
	return e
}

func (m *MemoryStore) expired(e memoryEntry) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}
