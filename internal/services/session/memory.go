package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	clock    func() time.Time
	sessions map[string]Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds an in-memory store. A non-positive ttl uses
// DefaultTTL; a nil clock uses time.Now.
func NewMemoryStore(ttl time.Duration, clock func() time.Time) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{ttl: ttl, clock: clock, sessions: make(map[string]Session)}
}

// Get returns a live session. Expired entries are dropped on read.
func (m *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	id, err := normalizeID(id)
	if err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Expired(m.clock()) {
		delete(m.sessions, id)
		return Session{}, ErrNotFound
	}
	s.Fields = cloneFields(s.Fields)
	return s, nil
}

// Put stores a copy of s.
func (m *MemoryStore) Put(ctx context.Context, s Session) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	id, err := normalizeID(s.ID)
	if err != nil {
		return Session{}, err
	}
	s.ID = id
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = m.clock().Add(m.ttl)
	}
	s.Fields = cloneFields(s.Fields)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = s
	return Session{ID: s.ID, Step: s.Step, Fields: cloneFields(s.Fields), ExpiresAt: s.ExpiresAt}, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Sweep drops every expired session and reports how many were removed.
func (m *MemoryStore) Sweep() int {
	now := m.clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports how many sessions are held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RunJanitor sweeps on every interval until ctx ends.
func (m *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration, logf func(string, ...any)) {
	if interval <= 0 {
		interval = time.Minute
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 {
				logf("session janitor removed %d expired sessions", removed)
			}
		}
	}
}
