package lfs

import (
	"slices"
	"sync"
)

// BlockSet records which blocks an operation touched. It is safe for
// concurrent use.
type BlockSet struct {
	mu     sync.RWMutex
	blocks map[uint32]struct{}
}

// NewBlockSet returns an empty set.
func NewBlockSet() *BlockSet {
	return &BlockSet{blocks: make(map[uint32]struct{})}
}

// Add inserts blocks. Adding to a nil set is a no-op.
func (s *BlockSet) Add(blocks ...uint32) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blocks {
		s.blocks[b] = struct{}{}
	}
}

// Has reports membership.
func (s *BlockSet) Has(block uint32) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[block]
	return ok
}

// Len returns the number of blocks in the set.
func (s *BlockSet) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// Sorted returns the members in ascending order.
func (s *BlockSet) Sorted() []uint32 {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]uint32, 0, len(s.blocks))
	for b := range s.blocks {
		out = append(out, b)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Clone returns an independent copy.
func (s *BlockSet) Clone() *BlockSet {
	c := NewBlockSet()
	c.Add(s.Sorted()...)
	return c
}
