package relay

import (
	"fmt"
	"regexp"
	"time"
)

// Mode is a floor's control mode.
type Mode string

// Control modes.
const (
	// ModeManual: relays follow user toggles.
	ModeManual Mode = "manual"

	// ModeAutomatic: the floor controller drives relays from the schedule.
	ModeAutomatic Mode = "automatic"
)

// legacyAutomatic is the value older dashboards wrote for ModeAutomatic.
const legacyAutomatic = "auto"

// ParseMode parses a mode supplied by a caller. Unlike snapshot decoding it
// rejects unknown values with ErrInvalidMode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case string(ModeManual):
		return ModeManual, nil
	case string(ModeAutomatic), legacyAutomatic:
		return ModeAutomatic, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Slice names one independently subscribed part of a floor's state. The
// value is the store path segment under the floor.
type Slice string

// State slices.
const (
	SliceMode     Slice = "relay_mode"
	SliceStatus   Slice = "relay_status"
	SliceSchedule Slice = "relay_time"
)

// Slices lists every slice in subscription order.
func Slices() []Slice {
	return []Slice{SliceMode, SliceStatus, SliceSchedule}
}

// Path returns the store path of a floor's slice.
func Path(floor string, slice Slice) string {
	return floor + "/" + string(slice)
}

var floorIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateFloor checks that floor is usable as a store path segment.
func ValidateFloor(floor string) error {
	if !floorIDPattern.MatchString(floor) {
		return fmt.Errorf("%w: %q", ErrInvalidFloor, floor)
	}
	return nil
}

// Schedule maps slot IDs (period1..periodN) to periods for one device.
type Schedule map[string]Period

// FloorState is a point-in-time copy of one floor's mirrored state.
type FloorState struct {
	Floor string `json:"floor"`
	Mode  Mode   `json:"mode"`

	// Status holds exactly one entry per catalog device.
	Status map[DeviceKey]bool `json:"status"`

	// Schedule holds only meaningful slots of schedulable devices.
	Schedule map[DeviceKey]Schedule `json:"schedule"`

	// Loading is true until both status and schedule have delivered a
	// first snapshot.
	Loading bool `json:"loading"`

	// Errors holds the last subscription error per slice. The slice keeps
	// its last known value while an error is present.
	Errors map[Slice]string `json:"errors,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveCount returns the number of relays that are on.
func (s FloorState) ActiveCount() int {
	n := 0
	for _, on := range s.Status {
		if on {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the state.
func (s FloorState) Clone() FloorState {
	cpy := s
	cpy.Status = make(map[DeviceKey]bool, len(s.Status))
	for k, v := range s.Status {
		cpy.Status[k] = v
	}
	cpy.Schedule = make(map[DeviceKey]Schedule, len(s.Schedule))
	for k, sched := range s.Schedule {
		inner := make(Schedule, len(sched))
		for slot, p := range sched {
			inner[slot] = p
		}
		cpy.Schedule[k] = inner
	}
	if s.Errors != nil {
		cpy.Errors = make(map[Slice]string, len(s.Errors))
		for k, v := range s.Errors {
			cpy.Errors[k] = v
		}
	}
	return cpy
}

// allOff returns a status map with every catalog device off.
func allOff(c *Catalog) map[DeviceKey]bool {
	status := make(map[DeviceKey]bool, len(c.devices))
	for _, d := range c.devices {
		status[d.Key] = false
	}
	return status
}
