package state

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process. It is meant for local runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

func (m *MemoryStore) Load(_ context.Context, tenantID, customerID string) (*Session, error) {
	if tenantID == "" || customerID == "" {
		return nil, ErrInvalidSession
	}
	x, found := m.cache.Get(SessionKey(tenantID, customerID))
	if !found {
		return nil, ErrStateNotFound
	}
	return x.(*Session).Clone(), nil
}

// Save stores a copy of s. A stale Version is rejected with ErrVersionConflict.
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	if s == nil {
		return ErrNilSession
	}
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.Key()
	if x, found := m.cache.Get(key); found && x.(*Session).Version != s.Version {
		return ErrVersionConflict
	}

	next := s.Clone()
	next.Version++
	m.cache.Set(key, next, cache.DefaultExpiration)
	s.Version = next.Version
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, tenantID, customerID string) error {
	m.cache.Delete(SessionKey(tenantID, customerID))
	return nil
}

func (m *MemoryStore) ArchiveStale(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	archived := 0
	now := time.Now().UTC()
	for key, item := range m.cache.Items() {
		s := item.Object.(*Session)
		if s.ArchivedAt != nil || !s.LastActivity.Before(olderThan) {
			continue
		}
		next := s.Clone()
		next.ArchivedAt = &now
		m.cache.Set(key, next, cache.DefaultExpiration)
		archived++
	}
	return archived, nil
}
