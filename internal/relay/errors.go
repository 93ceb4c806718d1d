package relay

import "errors"

// Domain errors for the relay package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, relay.ErrAutomaticMode) {
//	    // the floor is under controller ownership
//	}
var (
	// ErrUnknownDevice is returned when a device key is not in the catalog.
	ErrUnknownDevice = errors.New("relay: unknown device")

	// ErrNotSchedulable is returned for schedule operations on a device
	// whose period arity is zero.
	ErrNotSchedulable = errors.New("relay: device is not schedulable")

	// ErrInvalidSlot is returned when a slot ID is outside period1..periodN.
	ErrInvalidSlot = errors.New("relay: invalid period slot")

	// ErrInvalidField is returned when a period field is not start or end.
	ErrInvalidField = errors.New("relay: invalid period field")

	// ErrInvalidTime is returned when a time of day is not HH:MM.
	ErrInvalidTime = errors.New("relay: invalid time of day")

	// ErrInvalidPreset is returned when a preset does not fit the device.
	ErrInvalidPreset = errors.New("relay: invalid preset")

	// ErrPresetNotFound is returned when a named preset does not exist.
	ErrPresetNotFound = errors.New("relay: preset not found")

	// ErrInvalidMode is returned for mode values other than manual and automatic.
	ErrInvalidMode = errors.New("relay: invalid mode")

	// ErrAutomaticMode is returned when a toggle is attempted while the
	// floor is not in manual mode. Nothing is changed.
	ErrAutomaticMode = errors.New("relay: floor is in automatic mode")

	// ErrWriteFailed is returned when the remote store rejects a write.
	ErrWriteFailed = errors.New("relay: remote write failed")

	// ErrLoading is returned by Toggle until the floor's mode has been
	// received, since an unloaded mode cannot be checked against automatic.
	ErrLoading = errors.New("relay: floor mode not loaded")

	// ErrNotObserving is returned for commands issued before Observe.
	ErrNotObserving = errors.New("relay: session is not observing")

	// ErrSessionStopped is returned once Stop has been called.
	ErrSessionStopped = errors.New("relay: session stopped")

	// ErrAlreadyObserving is returned when Observe is called twice.
	ErrAlreadyObserving = errors.New("relay: session already observing")

	// ErrInvalidFloor is returned for empty or malformed floor identifiers.
	ErrInvalidFloor = errors.New("relay: invalid floor")

	// ErrStoreRequired is returned by NewSession without a remote store.
	ErrStoreRequired = errors.New("relay: store is required")

	// ErrInvalidCatalog is returned by NewCatalog for inconsistent devices.
	ErrInvalidCatalog = errors.New("relay: invalid catalog")
)
