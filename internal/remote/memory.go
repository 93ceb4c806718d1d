package remote

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store.
//
// Subscribe delivers the current value (null when absent) before it
// returns. Writes notify affected subscribers before they return.
type MemoryStore struct {
	mu     sync.Mutex
	tree   *Tree
	subs   *registry
	closed bool

	dispatch dispatcher
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tree: NewTree(),
		subs: newRegistry(),
	}
}

// Subscribe registers fn for the value at path.
func (s *MemoryStore) Subscribe(ctx context.Context, path string, fn SnapshotFunc) (Subscription, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	sub := s.subs.add(path, segs, fn)
	initial, _ := snapshotFor(sub, s.tree, true)
	s.dispatch.handoff(&s.mu, []delivery{initial})

	return &subscription{cancel: func() {
		s.mu.Lock()
		s.subs.remove(sub.id)
		s.mu.Unlock()
	}}, nil
}

// ReplaceAll overwrites the value at path. nil or an empty object deletes it.
func (s *MemoryStore) ReplaceAll(ctx context.Context, path string, value any) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	return s.apply(ctx, segs, func(t *Tree) error {
		t.Set(segs, v)
		return nil
	})
}

// MergeFields updates the named children of path.
func (s *MemoryStore) MergeFields(ctx context.Context, path string, fields map[string]any) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return ctx.Err()
	}
	return s.apply(ctx, segs, func(t *Tree) error {
		return t.Merge(segs, fields)
	})
}

func (s *MemoryStore) apply(ctx context.Context, segs []string, change func(*Tree) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if err := change(s.tree); err != nil {
		s.mu.Unlock()
		return err
	}
	batch := s.subs.collect(s.tree, segs, nil)
	s.dispatch.handoff(&s.mu, batch)
	return nil
}

// Get returns the JSON value at path, nil when absent.
func (s *MemoryStore) Get(path string) ([]byte, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Encode(segs), nil
}

// Close drops all subscriptions; later calls return ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs.clear()
	return nil
}
