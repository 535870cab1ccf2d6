package genstore

import (
	"context"
	"sync"
)

// Local keeps generations in-process. Entries are never pruned: a counter
// that fell back to 0 would let work from an older epoch look current.
type Local struct {
	mu   sync.RWMutex
	gens map[string]uint64
}

var _ GenStore = (*Local)(nil)

func NewLocal() *Local {
	return &Local{gens: make(map[string]uint64)}
}

func (s *Local) Snapshot(_ context.Context, scope string) (uint64, error) {
	s.mu.RLock()
	g := s.gens[scope]
	s.mu.RUnlock()
	return g, nil
}

func (s *Local) Bump(_ context.Context, scope string) (uint64, error) {
	s.mu.Lock()
	s.gens[scope]++
	g := s.gens[scope]
	s.mu.Unlock()
	return g, nil
}

func (s *Local) Close(context.Context) error { return nil }
