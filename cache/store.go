package cache

import (
	"context"
	"sync"
)

// Store persists cache entries. The cache writes through to it and reloads
// from it on Open.
type Store interface {
	Load(ctx context.Context) ([]*SATEntry, []*UNSATEntry, error)
	AppendSAT(ctx context.Context, e *SATEntry) error
	AppendUNSAT(ctx context.Context, e *UNSATEntry) error
}

// MemoryStore keeps entries in process. Useful for tests and for sharing one
// warm store between caches built over the same model.
type MemoryStore struct {
	mu    sync.Mutex
	sat   []*SATEntry
	unsat []*UNSATEntry
}

func (s *MemoryStore) Load(ctx context.Context) ([]*SATEntry, []*UNSATEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sat := make([]*SATEntry, len(s.sat))
	for i, e := range s.sat {
		sat[i] = &SATEntry{ID: e.ID, Witness: e.Witness}
	}
	unsat := make([]*UNSATEntry, len(s.unsat))
	for i, e := range s.unsat {
		unsat[i] = &UNSATEntry{ID: e.ID, Domains: e.Domains}
	}
	return sat, unsat, nil
}

func (s *MemoryStore) AppendSAT(ctx context.Context, e *SATEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sat = append(s.sat, e)
	return nil
}

func (s *MemoryStore) AppendUNSAT(ctx context.Context, e *UNSATEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsat = append(s.unsat, e)
	return nil
}
