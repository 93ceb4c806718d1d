package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "hydro"

// Topics builds Hydro Core MQTT topics under a configurable prefix.
//
// Layout:
//
//	{prefix}/state/{floor}/{slice}   retained JSON state documents
//	{prefix}/system/status           retained online/offline status (LWT)
//
// Using these helpers keeps topic naming consistent between the store and
// the microcontroller firmware that reads the same documents.
type Topics struct {
	prefix string
}

// NewTopics returns a builder rooted at prefix. Trailing slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root topic level(s).
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// =============================================================================
// State Documents
// =============================================================================

// StateBase returns the topic level under which state documents live.
//
// Example: hydro/state
func (t Topics) StateBase() string {
	return t.Prefix() + "/state"
}

// StateDocument returns the retained topic holding one state document.
// root is a slash-separated document path such as "floor1/relay_mode".
//
// Example: hydro/state/floor1/relay_mode
func (t Topics) StateDocument(root string) string {
	return fmt.Sprintf("%s/%s", t.StateBase(), root)
}

// DocumentRoot strips the state base from topic. ok is false when topic is
// not a state document topic.
func (t Topics) DocumentRoot(topic string) (root string, ok bool) {
	base := t.StateBase() + "/"
	if !strings.HasPrefix(topic, base) || len(topic) == len(base) {
		return "", false
	}
	return topic[len(base):], true
}

// AllStateDocuments returns a filter matching every state document whose
// root is exactly depth levels deep.
//
// Example (depth 2): hydro/state/+/+
func (t Topics) AllStateDocuments(depth int) string {
	if depth < 1 {
		depth = 1
	}
	return t.StateBase() + strings.Repeat("/+", depth)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: hydro/system/status
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}

// AllTopics returns a pattern matching all Hydro Core topics.
//
// Pattern: hydro/#
func (t Topics) AllTopics() string {
	return t.Prefix() + "/#"
}
