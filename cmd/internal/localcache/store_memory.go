package localcache

import (
	"context"
	"sync"
)

// MemoryStore keeps the document in process. Used by tests and ephemeral sessions.
type MemoryStore struct {
	mu     sync.Mutex
	doc    Document
	closed bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{doc: NewDocument()}
}

func (s *MemoryStore) Load(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Document{}, ErrClosed
	}
	return s.doc.clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, fn func(*Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	next := s.doc.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.normalize(); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
