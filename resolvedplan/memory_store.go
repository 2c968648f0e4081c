package resolvedplan

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	byParent map[string]map[string]struct{}
	byExec   map[string]map[string]struct{}
	closed   bool
	reads    int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]*Node),
		byParent: make(map[string]map[string]struct{}),
		byExec:   make(map[string]map[string]struct{}),
	}
}

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, node *Node) error {
	if err := node.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if old, ok := s.nodes[node.ID]; ok {
		unindex(s.byParent, old.ParentID, old.ID)
		unindex(s.byExec, old.ExecutionID, old.ID)
	}
	s.nodes[node.ID] = node.clone()
	index(s.byParent, node.ParentID, node.ID)
	index(s.byExec, node.ExecutionID, node.ID)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	s.reads++
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.clone(), nil
}

// FindByParentID implements Store.
func (s *MemoryStore) FindByParentID(ctx context.Context, parentID string) ([]*Node, error) {
	return s.find(s.byParent, parentID)
}

// FindByExecutionID implements Store.
func (s *MemoryStore) FindByExecutionID(ctx context.Context, executionID string) ([]*Node, error) {
	return s.find(s.byExec, executionID)
}

// Reads returns the number of read calls served, for cache tests.
func (s *MemoryStore) Reads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads
}

func (s *MemoryStore) find(idx map[string]map[string]struct{}, key string) ([]*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	s.reads++
	out := make([]*Node, 0, len(idx[key]))
	for id := range idx[key] {
		out = append(out, s.nodes[id].clone())
	}
	sortByPosition(out)
	return out, nil
}

func index(idx map[string]map[string]struct{}, key, id string) {
	if key == "" {
		return
	}
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func unindex(idx map[string]map[string]struct{}, key, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}
