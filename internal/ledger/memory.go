package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore keeps escrows in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	escrows map[common.Hash]*Escrow
	seq     map[common.Hash]int // insertion order
	next    int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows: make(map[common.Hash]*Escrow),
		seq:     make(map[common.Hash]int),
	}
}

func (s *MemoryStore) Create(_ context.Context, e *Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escrows[e.PuzzleID]; ok {
		return ErrExists
	}
	s.escrows[e.PuzzleID] = e.Clone()
	s.seq[e.PuzzleID] = s.next
	s.next++
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id common.Hash) (*Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id common.Hash, fn func(*Escrow) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[id]
	if !ok {
		return ErrNotFound
	}
	working := e.Clone()
	if err := fn(working); err != nil {
		return err
	}
	working.PuzzleID = id
	s.escrows[id] = working
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Escrow, 0, len(s.escrows))
	for _, e := range s.escrows {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].PuzzleID] < s.seq[out[j].PuzzleID]
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
