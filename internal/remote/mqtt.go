package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/hydro-core/internal/infrastructure/mqtt"
)

// DefaultDocumentDepth is the number of leading path segments that name one
// retained document: {floor}/{slice}.
const DefaultDocumentDepth = 2

// DefaultSettle is how long the store waits for retained documents before
// treating documents it has not seen as absent.
const DefaultSettle = 1500 * time.Millisecond

// Broker is the subset of the MQTT client the store needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by the store.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MQTTStoreOptions configures an MQTTStore.
type MQTTStoreOptions struct {
	Broker Broker
	Topics mqtt.Topics
	QoS    byte

	// DocumentDepth defaults to DefaultDocumentDepth.
	DocumentDepth int

	// Settle defaults to DefaultSettle. Zero keeps the default; use a
	// negative value to settle immediately.
	Settle time.Duration

	Logger Logger
}

// MQTTStore is a Store backed by retained MQTT messages.
//
// Each document root (the first DocumentDepth path segments) is one
// retained JSON message on Topics.StateDocument(root). The store mirrors
// every document under the state base and answers subscriptions from the
// mirror. Writes read the mirrored document, apply the change to a copy,
// publish the whole document retained and then apply it locally.
//
// Every published document stays pending until the broker echoes it back.
// Echoes are matched against the pending queue of their document and are
// applied only when they are the newest pending publish, so a late echo of
// an older write never rolls the mirror back. A foreign document that
// arrives while publishes are pending reached the broker before them and
// is superseded; it is dropped.
//
// Writes from this process are serialised. Two processes editing the same
// document concurrently resolve last-writer-wins at document level.
type MQTTStore struct {
	opts MQTTStoreOptions

	mu      sync.Mutex
	tree    *Tree
	seen    map[string]bool
	pending map[string][]pendingPublish
	pubSeq  uint64
	subs    *registry
	settled bool
	started bool
	closed  bool

	settledCh chan struct{}
	timer     *time.Timer

	writeMu  sync.Mutex
	dispatch dispatcher
}

var _ Store = (*MQTTStore)(nil)

// pendingPublish is a document this process published whose echo has not
// arrived yet.
type pendingPublish struct {
	seq     uint64
	payload []byte
}

// NewMQTTStore creates a store. Call Start before use.
func NewMQTTStore(opts MQTTStoreOptions) *MQTTStore {
	if opts.DocumentDepth <= 0 {
		opts.DocumentDepth = DefaultDocumentDepth
	}
	if opts.Settle == 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &MQTTStore{
		opts:      opts,
		tree:      NewTree(),
		seen:      make(map[string]bool),
		pending:   make(map[string][]pendingPublish),
		subs:      newRegistry(),
		settledCh: make(chan struct{}),
	}
}

// Start subscribes to all state documents and arms the settle timer.
func (s *MQTTStore) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	filter := s.opts.Topics.AllStateDocuments(s.opts.DocumentDepth)
	if err := s.opts.Broker.Subscribe(filter, s.opts.QoS, s.handleMessage); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("subscribing to state documents: %w", err)
	}

	if s.opts.Settle < 0 {
		s.settle()
	} else {
		s.mu.Lock()
		s.timer = time.AfterFunc(s.opts.Settle, s.settle)
		s.mu.Unlock()
	}
	return nil
}

// Close unsubscribes from the broker and drops all subscriptions.
func (s *MQTTStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	if s.timer != nil {
		s.timer.Stop()
	}
	s.subs.clear()
	s.mu.Unlock()

	if !started {
		return nil
	}
	return s.opts.Broker.Unsubscribe(s.opts.Topics.AllStateDocuments(s.opts.DocumentDepth))
}

// Settled reports whether the initial settle window has passed.
func (s *MQTTStore) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

// settle ends the loading window: subscribers of documents that never
// arrived learn that they are absent.
func (s *MQTTStore) settle() {
	s.mu.Lock()
	if s.settled || s.closed {
		s.mu.Unlock()
		return
	}
	s.settled = true
	close(s.settledCh)

	var batch []delivery
	for _, sub := range s.subs.ordered() {
		if sub.delivered {
			continue
		}
		if d, ok := snapshotFor(sub, s.tree, true); ok {
			batch = append(batch, d)
		}
	}
	s.dispatch.handoff(&s.mu, batch)
}

// HandleConnectionLost tells every subscriber the transport is down.
// Wire it to the MQTT client's disconnect callback.
func (s *MQTTStore) HandleConnectionLost(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.opts.Logger.Warn("remote state channel disconnected", "error", err)
	// Echoes may be lost with the session; retained documents replayed after
	// reconnect are authoritative.
	clear(s.pending)
	s.dispatch.handoff(&s.mu, s.subs.errorAll(fmt.Errorf("%w: %w", ErrDisconnected, err)))
}

// HandleReconnect re-delivers current values so subscribers clear the
// disconnect error. Retained messages replayed by the broker afterwards
// are delivered as usual if they differ.
func (s *MQTTStore) HandleReconnect() {
	s.mu.Lock()
	if s.closed || !s.settled {
		s.mu.Unlock()
		return
	}
	var batch []delivery
	for _, sub := range s.subs.ordered() {
		if d, ok := snapshotFor(sub, s.tree, false); ok {
			batch = append(batch, d)
		}
	}
	s.dispatch.handoff(&s.mu, batch)
}

// handleMessage applies one retained document from the broker.
func (s *MQTTStore) handleMessage(topic string, payload []byte) error {
	root, ok := s.opts.Topics.DocumentRoot(topic)
	if !ok {
		return nil
	}
	segs, err := SplitPath(root)
	if err != nil || len(segs) != s.opts.DocumentDepth {
		return nil
	}

	doc, err := Normalize(json.RawMessage(payload))
	if err != nil {
		// Unusable documents read as absent; readers fall back to defaults.
		s.opts.Logger.Warn("ignoring malformed state document", "topic", topic, "error", err)
		doc = nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if !s.settleEcho(root, payload) {
		s.mu.Unlock()
		return nil
	}
	s.seen[root] = true
	s.tree.Set(segs, doc)
	s.opts.Logger.Debug("state document received", "document", root, "bytes", len(payload))
	s.dispatch.handoff(&s.mu, s.subs.collect(s.tree, segs, s.ready))
	return nil
}

// settleEcho matches payload against the publishes pending for root and
// reports whether it should be applied. An echo consumes its pending entry
// and any older ones whose echoes were lost; it is applied only when
// nothing newer is pending. Caller holds mu.
func (s *MQTTStore) settleEcho(root string, payload []byte) bool {
	queue := s.pending[root]
	if len(queue) == 0 {
		return true
	}
	match := -1
	for i, p := range queue {
		if bytes.Equal(p.payload, payload) {
			match = i
			break
		}
	}
	if match < 0 {
		s.opts.Logger.Debug("dropping state document superseded by pending publish",
			"document", root, "pending", len(queue))
		return false
	}
	rest := queue[match+1:]
	if len(rest) > 0 {
		s.pending[root] = rest
		return false
	}
	delete(s.pending, root)
	return true
}

// isPending reports whether publish seq of root awaits its echo. Caller holds mu.
func (s *MQTTStore) isPending(root string, seq uint64) bool {
	for _, p := range s.pending[root] {
		if p.seq == seq {
			return true
		}
	}
	return false
}

// dropPending forgets a publish that never reached the broker. Caller holds mu.
func (s *MQTTStore) dropPending(root string, seq uint64) {
	queue := s.pending[root]
	for i, p := range queue {
		if p.seq == seq {
			queue = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(s.pending, root)
		return
	}
	s.pending[root] = queue
}

// ready reports whether sub may be told about its value. Caller holds mu.
func (s *MQTTStore) ready(sub *subscriber) bool {
	return s.settled || s.seen[s.rootOf(sub.segs)]
}

func (s *MQTTStore) rootOf(segs []string) string {
	return strings.Join(segs[:s.opts.DocumentDepth], "/")
}

func (s *MQTTStore) splitDocPath(path string) ([]string, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	if len(segs) < s.opts.DocumentDepth {
		return nil, fmt.Errorf("%w: %q is above document depth %d", ErrInvalidPath, path, s.opts.DocumentDepth)
	}
	return segs, nil
}

// Subscribe registers fn for the value at path. The first snapshot arrives
// once the document has been received or the settle window has passed.
func (s *MQTTStore) Subscribe(ctx context.Context, path string, fn SnapshotFunc) (Subscription, error) {
	segs, err := s.splitDocPath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrStoreClosed
	case !s.started:
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	sub := s.subs.add(path, segs, fn)
	var batch []delivery
	if s.ready(sub) {
		d, _ := snapshotFor(sub, s.tree, true)
		batch = append(batch, d)
	}
	s.dispatch.handoff(&s.mu, batch)

	return &subscription{cancel: func() {
		s.mu.Lock()
		s.subs.remove(sub.id)
		s.mu.Unlock()
	}}, nil
}

// ReplaceAll overwrites the value at path.
func (s *MQTTStore) ReplaceAll(ctx context.Context, path string, value any) error {
	segs, err := s.splitDocPath(path)
	if err != nil {
		return err
	}
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	return s.write(ctx, segs, func(t *Tree) error {
		t.Set(segs, v)
		return nil
	})
}

// MergeFields updates the named children of path.
func (s *MQTTStore) MergeFields(ctx context.Context, path string, fields map[string]any) error {
	segs, err := s.splitDocPath(path)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return ctx.Err()
	}
	return s.write(ctx, segs, func(t *Tree) error {
		return t.Merge(segs, fields)
	})
}

// write performs read-modify-publish of the document containing segs.
// Writes wait for the settle window so they never overwrite a retained
// document the store has not received yet.
func (s *MQTTStore) write(ctx context.Context, segs []string, change func(*Tree) error) error {
	s.mu.Lock()
	closed, started := s.closed, s.started
	s.mu.Unlock()
	if closed {
		return ErrStoreClosed
	}
	if !started {
		return ErrNotStarted
	}

	select {
	case <-s.settledCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rootSegs := segs[:s.opts.DocumentDepth]
	root := strings.Join(rootSegs, "/")

	s.mu.Lock()
	current := s.tree.Encode(rootSegs)
	s.mu.Unlock()

	scratch := NewTree()
	if err := scratch.Replace(rootSegs, current); err != nil {
		return err
	}
	if err := change(scratch); err != nil {
		return err
	}
	next := scratch.Encode(rootSegs)

	if err := ctx.Err(); err != nil {
		return err
	}

	// Registered before publishing: the echo may arrive inside Publish.
	s.mu.Lock()
	s.pubSeq++
	seq := s.pubSeq
	s.pending[root] = append(s.pending[root], pendingPublish{seq: seq, payload: next})
	s.mu.Unlock()

	// A nil payload clears the retained message, which reads as absent.
	if err := s.opts.Broker.Publish(s.opts.Topics.StateDocument(root), next, s.opts.QoS, true); err != nil {
		s.mu.Lock()
		s.dropPending(root, seq)
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	doc, err := Normalize(next)
	if err != nil {
		return err
	}

	s.mu.Lock()
	// Once the echo has been taken off the queue it was applied already, and
	// anything received after it is newer than this write.
	if s.closed || !s.isPending(root, seq) {
		s.mu.Unlock()
		return nil
	}
	s.seen[root] = true
	s.tree.Set(rootSegs, doc)
	s.dispatch.handoff(&s.mu, s.subs.collect(s.tree, rootSegs, s.ready))
	return nil
}
