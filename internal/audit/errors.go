package audit

import "errors"

var (
	// ErrInvalidEntry is returned when an entry lacks a floor, action or outcome.
	ErrInvalidEntry = errors.New("audit: invalid command log entry")

	// ErrRecorderClosed is returned by Close when called twice.
	ErrRecorderClosed = errors.New("audit: recorder closed")
)
