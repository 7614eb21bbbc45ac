package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the persistence collaborator for memory records. Implementations
// back retrieval with whatever index suits them; the manager does similarity
// scoring itself over candidate lists.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, bool, error)
	Update(ctx context.Context, rec Record) error
	// List returns non-superseded candidates for an agent, optionally
	// filtered by type. Order is unspecified.
	List(ctx context.Context, agentID string, types []Type) ([]Record, error)
	// MarkAccessed bumps access_count and last_accessed for the given ids.
	MarkAccessed(ctx context.Context, ids []string, at time.Time) error
	// DeleteExpired physically removes records whose importance fell below
	// floor and whose expires_at has passed. Returns the number removed.
	DeleteExpired(ctx context.Context, agentID string, now time.Time, floor float64) (int, error)
}

// InMemoryStore is a process-local Store guarded by an RWMutex. Retrieval is
// a linear scan, fine for tests and single-node deployments; swap in the
// SQLite store for durability.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

// Insert implements Store.
func (s *InMemoryStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("memory %s already exists", rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, id string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

// Update implements Store.
func (s *InMemoryStore) Update(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; !exists {
		return fmt.Errorf("memory %s not found", rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

// List implements Store.
func (s *InMemoryStore) List(_ context.Context, agentID string, types []Type) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if rec.AgentID != agentID || rec.Superseded() {
			continue
		}
		if len(types) > 0 && !containsType(types, rec.Type) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// MarkAccessed implements Store.
func (s *InMemoryStore) MarkAccessed(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			rec.AccessCount++
			rec.LastAccessed = at
			s.records[id] = rec
		}
	}
	return nil
}

// DeleteExpired implements Store.
func (s *InMemoryStore) DeleteExpired(_ context.Context, agentID string, now time.Time, floor float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records {
		if rec.AgentID != agentID {
			continue
		}
		if rec.Importance < floor && rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func containsType(types []Type, t Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
