package memstore

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/sessions"
)

type entry struct {
	record    sessions.Record
	expiresAt time.Time
}

// Store is a thread-safe in-memory sessions.Backend
type Store struct {
	mu      sync.RWMutex
	records map[string]entry
	nowFunc func() time.Time
}

var _ sessions.Backend = (*Store)(nil)

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		records: make(map[string]entry),
		nowFunc: time.Now,
	}
}

// Save stores a copy of the record
func (s *Store) Save(_ context.Context, id string, rec sessions.Record, ttl time.Duration) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{record: sessions.Record{Created: rec.Created, Values: maps.Clone(rec.Values)}}
	if ttl > 0 {
		e.expiresAt = s.nowFunc().Add(ttl)
	}
	s.records[id] = e
	return nil
}

// Load retrieves a copy of the record
func (s *Store) Load(_ context.Context, id string) (sessions.Record, error) {
	s.mu.RLock()
	e, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		return sessions.Record{}, errors.ErrSessionNotFound
	}
	if !e.expiresAt.IsZero() && s.nowFunc().After(e.expiresAt) {
		_ = s.Delete(context.Background(), id)
		return sessions.Record{}, errors.ErrSessionNotFound
	}
	return sessions.Record{Created: e.record.Created, Values: maps.Clone(e.record.Values)}, nil
}

// Delete removes a record
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

// Len returns the number of stored records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
