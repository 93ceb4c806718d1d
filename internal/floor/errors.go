package floor

import "errors"

var (
	// ErrUnknownFloor is returned when a floor is not configured.
	ErrUnknownFloor = errors.New("floor: unknown floor")

	// ErrNoFloors is returned when the supervisor is created without floors.
	ErrNoFloors = errors.New("floor: no floors configured")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("floor: supervisor already started")
)
