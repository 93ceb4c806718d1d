package remote

import "errors"

var (
	// ErrInvalidPath is returned for empty paths, empty segments or
	// segments containing MQTT wildcards.
	ErrInvalidPath = errors.New("remote: invalid path")

	// ErrInvalidValue is returned when a value cannot be encoded as JSON.
	ErrInvalidValue = errors.New("remote: invalid value")

	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("remote: store closed")

	// ErrWriteFailed wraps transport failures during ReplaceAll/MergeFields.
	ErrWriteFailed = errors.New("remote: write failed")

	// ErrDisconnected is delivered in Snapshot.Err while the transport is down.
	ErrDisconnected = errors.New("remote: disconnected")

	// ErrNotStarted is returned by MQTTStore operations before Start.
	ErrNotStarted = errors.New("remote: store not started")
)
