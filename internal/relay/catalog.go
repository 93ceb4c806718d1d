package relay

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceKey identifies a controllable device on every floor.
type DeviceKey string

// Devices in the default catalog.
const (
	DeviceLight DeviceKey = "light"
	DeviceFan   DeviceKey = "fan"
	DevicePump  DeviceKey = "pump"
	DeviceFertA DeviceKey = "fertA"
	DeviceFertB DeviceKey = "fertB"
)

// MaxPeriodArity is the largest number of schedulable windows a device may have.
const MaxPeriodArity = 2

// Period field names.
const (
	FieldStart = "start"
	FieldEnd   = "end"
)

// Period is one daily on-window. An empty Start or End means unset.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// IsEmpty reports whether both ends of the period are unset.
func (p Period) IsEmpty() bool {
	return p.Start == "" && p.End == ""
}

// Preset is a named set of periods, one per slot of the target device.
type Preset struct {
	Name    string   `json:"name"`
	Periods []Period `json:"periods"`
}

// Device describes one controllable device.
type Device struct {
	Key         DeviceKey `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`

	// PeriodArity is the number of schedulable windows. Zero means the
	// device is manual-only.
	PeriodArity int      `json:"period_arity"`
	Presets     []Preset `json:"presets,omitempty"`
}

// Schedulable reports whether the device accepts schedule edits.
func (d Device) Schedulable() bool {
	return d.PeriodArity > 0
}

// Slots returns the meaningful slot IDs for the device, period1..periodN.
func (d Device) Slots() []string {
	slots := make([]string, d.PeriodArity)
	for i := range slots {
		slots[i] = SlotID(i + 1)
	}
	return slots
}

// Preset returns the preset with the given name.
func (d Device) Preset(name string) (Preset, bool) {
	for _, p := range d.Presets {
		if p.Name == name {
			return p.clone(), true
		}
	}
	return Preset{}, false
}

func (d Device) clone() Device {
	cpy := d
	if d.Presets != nil {
		cpy.Presets = make([]Preset, len(d.Presets))
		for i, p := range d.Presets {
			cpy.Presets[i] = p.clone()
		}
	}
	return cpy
}

func (p Preset) clone() Preset {
	cpy := p
	if p.Periods != nil {
		cpy.Periods = make([]Period, len(p.Periods))
		copy(cpy.Periods, p.Periods)
	}
	return cpy
}

// SlotID returns the store key of the n-th period slot (1-based).
func SlotID(n int) string {
	return "period" + strconv.Itoa(n)
}

// slotIndex parses a slot ID and checks it against arity.
func slotIndex(slot string, arity int) (int, error) {
	num, ok := strings.CutPrefix(slot, "period")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > arity || SlotID(n) != slot {
		return 0, fmt.Errorf("%w: %q (device has %d)", ErrInvalidSlot, slot, arity)
	}
	return n, nil
}

// QuickTime is a shortcut time offered next to period inputs.
type QuickTime struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// QuickTimes returns the standard shortcut times.
func QuickTimes() []QuickTime {
	return []QuickTime{
		{Label: "6 AM", Value: "06:00"},
		{Label: "8 AM", Value: "08:00"},
		{Label: "12 PM", Value: "12:00"},
		{Label: "6 PM", Value: "18:00"},
		{Label: "8 PM", Value: "20:00"},
		{Label: "10 PM", Value: "22:00"},
	}
}

// Catalog is the immutable, ordered set of devices present on every floor.
// Accessors return copies.
type Catalog struct {
	devices []Device
	index   map[DeviceKey]int
}

// NewCatalog validates devices and builds a catalog.
//
// Keys must be unique and non-empty, arity must be within
// 0..MaxPeriodArity and every preset must have exactly one period per slot
// with valid times.
func NewCatalog(devices []Device) (*Catalog, error) {
	c := &Catalog{
		devices: make([]Device, 0, len(devices)),
		index:   make(map[DeviceKey]int, len(devices)),
	}
	for _, d := range devices {
		if err := validateDevice(d); err != nil {
			return nil, err
		}
		if _, dup := c.index[d.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate device %q", ErrInvalidCatalog, d.Key)
		}
		c.index[d.Key] = len(c.devices)
		c.devices = append(c.devices, d.clone())
	}
	return c, nil
}

func validateDevice(d Device) error {
	if d.Key == "" || strings.ContainsAny(string(d.Key), "/+#") {
		return fmt.Errorf("%w: invalid device key %q", ErrInvalidCatalog, d.Key)
	}
	if d.PeriodArity < 0 || d.PeriodArity > MaxPeriodArity {
		return fmt.Errorf("%w: device %q arity %d", ErrInvalidCatalog, d.Key, d.PeriodArity)
	}
	if d.PeriodArity == 0 && len(d.Presets) > 0 {
		return fmt.Errorf("%w: device %q has presets but no periods", ErrInvalidCatalog, d.Key)
	}
	for _, p := range d.Presets {
		if err := validatePreset(d, p); err != nil {
			return fmt.Errorf("%w: device %q: %w", ErrInvalidCatalog, d.Key, err)
		}
	}
	return nil
}

// DefaultCatalog returns the standard five-device catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultDevices())
	if err != nil {
		panic(fmt.Sprintf("relay: default catalog: %v", err))
	}
	return c
}

func defaultDevices() []Device {
	return []Device{
		{
			Key: DeviceLight, Name: "Light System", Description: "LED grow lights",
			PeriodArity: 2,
			Presets: []Preset{
				{Name: "Morning & Evening", Periods: []Period{{"06:00", "12:00"}, {"18:00", "22:00"}}},
				{Name: "Full Day", Periods: []Period{{"06:00", "18:00"}, {"", ""}}},
				{Name: "Night Only", Periods: []Period{{"20:00", "23:59"}, {"00:00", "06:00"}}},
			},
		},
		{
			Key: DeviceFan, Name: "Ventilation Fan", Description: "Air circulation",
			PeriodArity: 2,
			Presets: []Preset{
				{Name: "Day & Night", Periods: []Period{{"08:00", "20:00"}, {"22:00", "06:00"}}},
				{Name: "Hot Hours", Periods: []Period{{"10:00", "16:00"}, {"19:00", "21:00"}}},
				{Name: "Continuous", Periods: []Period{{"00:00", "23:59"}, {"", ""}}},
			},
		},
		{
			Key: DevicePump, Name: "Water Pump", Description: "Nutrient circulation",
			PeriodArity: 1,
			Presets: []Preset{
				{Name: "Every 4 Hours", Periods: []Period{{"06:00", "06:15"}}},
				{Name: "Morning Only", Periods: []Period{{"07:00", "07:30"}}},
				{Name: "Twice Daily", Periods: []Period{{"08:00", "08:15"}}},
			},
		},
		{Key: DeviceFertA, Name: "Fertilizer A", Description: "Primary nutrients"},
		{Key: DeviceFertB, Name: "Fertilizer B", Description: "Secondary nutrients"},
	}
}

// Devices returns all devices in catalog order.
func (c *Catalog) Devices() []Device {
	out := make([]Device, len(c.devices))
	for i, d := range c.devices {
		out[i] = d.clone()
	}
	return out
}

// Keys returns all device keys in catalog order.
func (c *Catalog) Keys() []DeviceKey {
	keys := make([]DeviceKey, len(c.devices))
	for i, d := range c.devices {
		keys[i] = d.Key
	}
	return keys
}

// Device returns the device with the given key.
// Returns ErrUnknownDevice if the key is not in the catalog.
func (c *Catalog) Device(key DeviceKey) (Device, error) {
	i, ok := c.index[key]
	if !ok {
		return Device{}, fmt.Errorf("%w: %q", ErrUnknownDevice, key)
	}
	return c.devices[i].clone(), nil
}

// Has reports whether key is in the catalog.
func (c *Catalog) Has(key DeviceKey) bool {
	_, ok := c.index[key]
	return ok
}

// schedulable returns the device, or ErrNotSchedulable when its arity is zero.
func (c *Catalog) schedulable(key DeviceKey) (Device, error) {
	d, err := c.Device(key)
	if err != nil {
		return Device{}, err
	}
	if !d.Schedulable() {
		return Device{}, fmt.Errorf("%w: %q", ErrNotSchedulable, key)
	}
	return d, nil
}
