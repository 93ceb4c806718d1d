package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Tree is a JSON value tree with realtime-database semantics.
//
// Interior nodes are map[string]any; leaves are the values produced by
// encoding/json (string, float64, bool, []any). A Tree is not safe for
// concurrent use; the stores guard it with their own locks.
type Tree struct {
	root map[string]any
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{root: map[string]any{}}
}

// SplitPath validates path and returns its segments.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if err := validateSegment(s); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPath, path, err)
		}
	}
	return segs, nil
}

func validateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("empty segment")
	}
	for _, r := range s {
		switch {
		case r == '+' || r == '#':
			return fmt.Errorf("wildcard in segment %q", s)
		case unicode.IsControl(r):
			return fmt.Errorf("control character in segment %q", s)
		}
	}
	return nil
}

// Normalize converts v into the tree's canonical form: a deep copy made of
// JSON-decoded types with null children and empty objects removed. A nil
// result means "absent".
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var raw []byte
	switch val := v.(type) {
	case json.RawMessage:
		raw = val
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		raw = b
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return prune(out), nil
}

// prune removes null children and empty objects, bottom up.
func prune(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if p := prune(child); p == nil {
				delete(val, k)
			} else {
				val[k] = p
			}
		}
		if len(val) == 0 {
			return nil
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = prune(child)
		}
		return val
	default:
		return v
	}
}

// Get returns the value at segs, or nil when absent. The result aliases
// tree storage; callers must not mutate it.
func (t *Tree) Get(segs []string) any {
	var node any = t.root
	for _, s := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[s]
		if !ok {
			return nil
		}
	}
	if m, ok := node.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return node
}

// Encode returns the JSON encoding of the value at segs, nil when absent.
// Object keys are sorted, so equal values encode to equal bytes.
func (t *Tree) Encode(segs []string) json.RawMessage {
	v := t.Get(segs)
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		// Tree values come from json.Unmarshal and always re-encode.
		panic(fmt.Sprintf("remote: re-encoding tree value: %v", err))
	}
	return b
}

// Set stores a normalized value at segs. A nil value deletes the node and
// prunes ancestors left empty. Non-object nodes on the way down are
// replaced by objects.
func (t *Tree) Set(segs []string, v any) {
	if len(segs) == 0 {
		if m, ok := v.(map[string]any); ok {
			t.root = m
		} else {
			t.root = map[string]any{}
		}
		return
	}
	if v == nil {
		t.delete(segs)
		return
	}

	node := t.root
	for _, s := range segs[:len(segs)-1] {
		child, ok := node[s].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[s] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = v
}

func (t *Tree) delete(segs []string) {
	parents := make([]map[string]any, 0, len(segs))
	node := t.root
	for _, s := range segs[:len(segs)-1] {
		child, ok := node[s].(map[string]any)
		if !ok {
			return
		}
		parents = append(parents, node)
		node = child
	}
	delete(node, segs[len(segs)-1])

	// Walk back up removing parents that became empty.
	for i := len(parents) - 1; i >= 0 && len(node) == 0; i-- {
		delete(parents[i], segs[i])
		node = parents[i]
	}
}

// Replace normalizes value and stores it at segs.
func (t *Tree) Replace(segs []string, value any) error {
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	t.Set(segs, v)
	return nil
}

// Merge applies fields as children of segs. Field names may contain '/' to
// address deeper descendants. A nil field value deletes that child. All
// fields are validated before anything changes; fields where one is an
// ancestor of another ("a" and "a/b") are rejected with ErrInvalidPath.
func (t *Tree) Merge(segs []string, fields map[string]any) error {
	type change struct {
		name string
		sub  []string
		segs []string
		v    any
	}
	changes := make([]change, 0, len(fields))
	for name, value := range fields {
		sub, err := SplitPath(name)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		v, err := Normalize(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		full := make([]string, 0, len(segs)+len(sub))
		full = append(append(full, segs...), sub...)
		changes = append(changes, change{name: name, sub: sub, segs: full, v: v})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].name < changes[j].name })
	for i := range changes {
		for j := i + 1; j < len(changes); j++ {
			if Overlaps(changes[i].sub, changes[j].sub) {
				return fmt.Errorf("%w: fields %q and %q overlap", ErrInvalidPath, changes[i].name, changes[j].name)
			}
		}
	}
	for _, c := range changes {
		t.Set(c.segs, c.v)
	}
	return nil
}

// Overlaps reports whether a change at one path can alter the value at the
// other, i.e. one is a prefix of the other.
func Overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
