package remote

import (
	"context"
	"encoding/json"
)

// Snapshot is one observation of the value at a path.
//
// Value is the JSON encoding of the value, nil when the path is absent.
// When Err is set the subscription hit a problem and Value is nil; the
// subscriber should keep its last known state.
type Snapshot struct {
	Path  string
	Value json.RawMessage
	Err   error
}

// Exists reports whether the snapshot carries a value.
func (s Snapshot) Exists() bool {
	return s.Err == nil && s.Value != nil
}

// Decode unmarshals the value into v. It is a no-op for absent values.
func (s Snapshot) Decode(v any) error {
	if s.Value == nil {
		return nil
	}
	return json.Unmarshal(s.Value, v)
}

// SnapshotFunc receives snapshots for one subscription, in the order the
// store applied the underlying writes.
//
// Callbacks run synchronously on the goroutine that applied the change.
// They must return quickly and must not write to the store.
type SnapshotFunc func(Snapshot)

// Subscription is a live listener registration.
type Subscription interface {
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe() error
}

// Store is the remote state channel.
//
// ReplaceAll and MergeFields return once the change has been accepted by
// the backend; subscribers of affected paths have been notified by then.
type Store interface {
	Subscribe(ctx context.Context, path string, fn SnapshotFunc) (Subscription, error)
	ReplaceAll(ctx context.Context, path string, value any) error
	MergeFields(ctx context.Context, path string, fields map[string]any) error
}
