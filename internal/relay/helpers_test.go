package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hydro-core/internal/remote"
)

// fakeStore wraps a MemoryStore, recording writes and letting tests inject
// failures, block writes and deliver snapshots by hand.
type fakeStore struct {
	*remote.MemoryStore

	mu           sync.Mutex
	silent       bool // Subscribe registers handlers without delivering anything
	subscribeErr map[string]error
	handlers     map[string]remote.SnapshotFunc
	active       int
	writes       []fakeWrite
	onWrite      func(op, path string, value any) error
}

type fakeWrite struct {
	op   string
	path string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		MemoryStore:  remote.NewMemoryStore(),
		subscribeErr: make(map[string]error),
		handlers:     make(map[string]remote.SnapshotFunc),
	}
}

func (f *fakeStore) Subscribe(ctx context.Context, path string, fn remote.SnapshotFunc) (remote.Subscription, error) {
	f.mu.Lock()
	if err := f.subscribeErr[path]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.handlers[path] = fn
	f.active++
	silent := f.silent
	f.mu.Unlock()

	sub := &fakeSub{store: f}
	if silent {
		return sub, nil
	}
	inner, err := f.MemoryStore.Subscribe(ctx, path, fn)
	if err != nil {
		return nil, err
	}
	sub.inner = inner
	return sub, nil
}

func (f *fakeStore) ReplaceAll(ctx context.Context, path string, value any) error {
	if err := f.record("replace", path, value); err != nil {
		return err
	}
	return f.MemoryStore.ReplaceAll(ctx, path, value)
}

func (f *fakeStore) MergeFields(ctx context.Context, path string, fields map[string]any) error {
	if err := f.record("merge", path, fields); err != nil {
		return err
	}
	return f.MemoryStore.MergeFields(ctx, path, fields)
}

func (f *fakeStore) record(op, path string, value any) error {
	f.mu.Lock()
	f.writes = append(f.writes, fakeWrite{op: op, path: path})
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		return hook(op, path, value)
	}
	return nil
}

func (f *fakeStore) setOnWrite(hook func(op, path string, value any) error) {
	f.mu.Lock()
	f.onWrite = hook
	f.mu.Unlock()
}

func (f *fakeStore) writeLog() []fakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeStore) activeSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// deliver calls the handler registered for path directly.
func (f *fakeStore) deliver(t *testing.T, path string, snap remote.Snapshot) {
	t.Helper()
	f.mu.Lock()
	fn := f.handlers[path]
	f.mu.Unlock()
	if fn == nil {
		t.Fatalf("no handler registered for %s", path)
	}
	snap.Path = path
	fn(snap)
}

// seed writes directly to the backing store without recording.
func (f *fakeStore) seed(t *testing.T, path string, value any) {
	t.Helper()
	if err := f.MemoryStore.ReplaceAll(context.Background(), path, value); err != nil {
		t.Fatalf("seeding %s: %v", path, err)
	}
}

func (f *fakeStore) get(t *testing.T, path string) string {
	t.Helper()
	raw, err := f.MemoryStore.Get(path)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", path, err)
	}
	if raw == nil {
		return "null"
	}
	return string(raw)
}

type fakeSub struct {
	store *fakeStore
	inner remote.Subscription
	once  sync.Once
}

func (s *fakeSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.store.mu.Lock()
		s.store.active--
		s.store.mu.Unlock()
		if s.inner != nil {
			err = s.inner.Unsubscribe()
		}
	})
	return err
}

// commandLog is a CommandRecorder that keeps every command.
type commandLog struct {
	mu   sync.Mutex
	cmds []Command
}

func (c *commandLog) RecordCommand(_ context.Context, cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
}

func (c *commandLog) all() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Command, len(c.cmds))
	copy(out, c.cmds)
	return out
}

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T, store remote.Store, rec CommandRecorder) *Session {
	t.Helper()
	s, err := NewSession(SessionOptions{
		Floor:    "floor1",
		Store:    store,
		Recorder: rec,
		Now:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func newObservedSession(t *testing.T, store remote.Store, rec CommandRecorder) *Session {
	t.Helper()
	s := newTestSession(t, store, rec)
	if err := s.Observe(context.Background()); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	return s
}
