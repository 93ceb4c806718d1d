package relay

import (
	"encoding/json"
)

// Snapshot decoding never fails. Values that do not match the expected
// shape are treated as absent and replaced by defaults; the boolean result
// reports whether anything had to be discarded so the session can log it.

// decodeMode maps a mode snapshot to a Mode. Absent or unknown values
// decode to ModeManual.
func decodeMode(raw json.RawMessage) (Mode, bool) {
	if raw == nil {
		return ModeManual, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ModeManual, false
	}
	m, err := ParseMode(s)
	if err != nil {
		return ModeManual, false
	}
	return m, true
}

// decodeStatus maps a status snapshot to one boolean per catalog device.
// Missing devices and non-boolean values read as off; keys outside the
// catalog are ignored.
func decodeStatus(raw json.RawMessage, c *Catalog) (map[DeviceKey]bool, bool) {
	status := allOff(c)
	if raw == nil {
		return status, true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return status, false
	}
	clean := true
	for key, v := range fields {
		if !c.Has(DeviceKey(key)) {
			continue
		}
		var on bool
		if err := json.Unmarshal(v, &on); err != nil {
			clean = false
			continue
		}
		status[DeviceKey(key)] = on
	}
	return status, clean
}

// decodeSchedule maps a schedule snapshot to the meaningful slots of
// schedulable catalog devices. Slots beyond a device's arity and entries
// with the wrong shape are dropped.
func decodeSchedule(raw json.RawMessage, c *Catalog) (map[DeviceKey]Schedule, bool) {
	schedule := make(map[DeviceKey]Schedule)
	if raw == nil {
		return schedule, true
	}
	var devices map[string]json.RawMessage
	if err := json.Unmarshal(raw, &devices); err != nil {
		return schedule, false
	}
	clean := true
	for key, v := range devices {
		i, ok := c.index[DeviceKey(key)]
		if !ok || !c.devices[i].Schedulable() {
			continue
		}
		var slots map[string]json.RawMessage
		if err := json.Unmarshal(v, &slots); err != nil {
			clean = false
			continue
		}
		sched := make(Schedule)
		for slot, pv := range slots {
			if _, err := slotIndex(slot, c.devices[i].PeriodArity); err != nil {
				continue
			}
			p, ok := decodePeriod(pv)
			if !ok {
				clean = false
			}
			if !p.IsEmpty() {
				sched[slot] = p
			}
		}
		if len(sched) > 0 {
			schedule[DeviceKey(key)] = sched
		}
	}
	return schedule, clean
}

// decodePeriod reads start and end leniently; a field that is not a string
// reads as unset.
func decodePeriod(raw json.RawMessage) (Period, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Period{}, false
	}
	var p Period
	clean := true
	for name, dst := range map[string]*string{FieldStart: &p.Start, FieldEnd: &p.End} {
		v, ok := fields[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			*dst = ""
			clean = false
		}
	}
	return p, clean
}
