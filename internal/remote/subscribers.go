package remote

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
)

type subscriber struct {
	id   uint64
	path string
	segs []string
	fn   SnapshotFunc

	// last and delivered are guarded by the owning store's mu.
	last      json.RawMessage
	delivered bool

	active atomic.Bool
}

type delivery struct {
	sub  *subscriber
	snap Snapshot
}

// registry tracks subscribers and decides which of them a change affects.
// Callers hold the owning store's mu.
type registry struct {
	subs map[uint64]*subscriber
	next uint64
}

func newRegistry() *registry {
	return &registry{subs: make(map[uint64]*subscriber)}
}

func (r *registry) add(path string, segs []string, fn SnapshotFunc) *subscriber {
	r.next++
	sub := &subscriber{id: r.next, path: path, segs: segs, fn: fn}
	sub.active.Store(true)
	r.subs[sub.id] = sub
	return sub
}

func (r *registry) remove(id uint64) {
	if sub, ok := r.subs[id]; ok {
		sub.active.Store(false)
		delete(r.subs, id)
	}
}

func (r *registry) clear() {
	for id := range r.subs {
		r.remove(id)
	}
}

// snapshotFor returns a delivery when sub has not seen the current value yet.
func snapshotFor(sub *subscriber, tree *Tree, force bool) (delivery, bool) {
	value := tree.Encode(sub.segs)
	if sub.delivered && !force && bytes.Equal(value, sub.last) {
		return delivery{}, false
	}
	sub.delivered = true
	sub.last = value
	return delivery{sub: sub, snap: Snapshot{Path: sub.path, Value: value}}, true
}

// collect returns deliveries for subscribers whose path overlaps changed.
// ready filters subscribers that may not be told anything yet.
func (r *registry) collect(tree *Tree, changed []string, ready func(*subscriber) bool) []delivery {
	var batch []delivery
	for _, sub := range r.ordered() {
		if !Overlaps(sub.segs, changed) {
			continue
		}
		if ready != nil && !ready(sub) {
			continue
		}
		if d, ok := snapshotFor(sub, tree, false); ok {
			batch = append(batch, d)
		}
	}
	return batch
}

// errorAll builds an error delivery for every subscriber. The next value
// delivery is forced so subscribers can clear the error.
func (r *registry) errorAll(err error) []delivery {
	batch := make([]delivery, 0, len(r.subs))
	for _, sub := range r.ordered() {
		sub.delivered = false
		batch = append(batch, delivery{sub: sub, snap: Snapshot{Path: sub.path, Err: err}})
	}
	return batch
}

// ordered returns subscribers in registration order so delivery order is
// deterministic.
func (r *registry) ordered() []*subscriber {
	out := make([]*subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// dispatcher serialises delivery so snapshots reach subscribers in the
// order the store applied the changes. The store locks its own mu, builds
// a batch, calls handoff (which takes the delivery lock before releasing
// mu) and then runs the batch.
type dispatcher struct {
	mu sync.Mutex
}

func (d *dispatcher) handoff(storeMu *sync.Mutex, batch []delivery) {
	if len(batch) == 0 {
		storeMu.Unlock()
		return
	}
	d.mu.Lock()
	storeMu.Unlock()
	defer d.mu.Unlock()
	for _, item := range batch {
		if item.sub.active.Load() {
			item.sub.fn(item.snap)
		}
	}
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(s.cancel)
	return nil
}
