package relay

import (
	"context"
	"fmt"
)

// schedulePath is the store path of one device's schedule.
func (s *Session) schedulePath(key DeviceKey) string {
	return Path(s.floor, SliceSchedule) + "/" + string(key)
}

// validatePeriodField checks a (device, slot, field) address.
func (s *Session) validatePeriodField(key DeviceKey, slot, field string) error {
	d, err := s.catalog.schedulable(key)
	if err != nil {
		return err
	}
	if _, err := slotIndex(slot, d.PeriodArity); err != nil {
		return err
	}
	if field != FieldStart && field != FieldEnd {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return nil
}

// SetPeriodField sets the start or end of one slot. value is "HH:MM", or
// empty to unset.
//
// The write is a merge of that single field, so sibling fields and other
// slots are left untouched even when edited concurrently.
func (s *Session) SetPeriodField(ctx context.Context, key DeviceKey, slot, field, value string) error {
	if err := s.validatePeriodField(key, slot, field); err != nil {
		return err
	}
	if err := validClockOrEmpty(value); err != nil {
		return err
	}
	if err := s.checkReady(); err != nil {
		return err
	}

	started := s.now()
	cmd := Command{
		Action: ActionSetPeriod,
		Device: key,
		Detail: map[string]any{"slot": slot, "field": field, "value": value},
	}

	path := s.schedulePath(key) + "/" + slot
	if err := s.store.MergeFields(ctx, path, map[string]any{field: value}); err != nil {
		err = fmt.Errorf("%w: set %s.%s of %s on %s: %w", ErrWriteFailed, slot, field, key, s.floor, err)
		s.record(ctx, cmd, started, err)
		return err
	}
	s.record(ctx, cmd, started, nil)
	return nil
}

// NudgePeriodField moves one field of a slot by deltaMinutes, wrapping
// around midnight, and returns the value written. An unset field counts
// as 00:00.
func (s *Session) NudgePeriodField(ctx context.Context, key DeviceKey, slot, field string, deltaMinutes int) (string, error) {
	if err := s.validatePeriodField(key, slot, field); err != nil {
		return "", err
	}

	s.mu.Lock()
	current := s.state.Schedule[key][slot]
	s.mu.Unlock()

	value := current.Start
	if field == FieldEnd {
		value = current.End
	}
	next, err := AdjustTime(value, deltaMinutes)
	if err != nil {
		return "", fmt.Errorf("stored %s.%s of %s: %w", slot, field, key, err)
	}
	if err := s.SetPeriodField(ctx, key, slot, field, next); err != nil {
		return "", err
	}
	return next, nil
}

// ApplyPreset replaces a device's whole schedule with the preset.
//
// The preset must have one period per slot. Periods with both ends unset
// are omitted from the written schedule rather than stored empty.
func (s *Session) ApplyPreset(ctx context.Context, key DeviceKey, preset Preset) error {
	d, err := s.catalog.schedulable(key)
	if err != nil {
		return err
	}
	if err := validatePreset(d, preset); err != nil {
		return err
	}
	return s.applyPreset(ctx, key, preset)
}

// ApplyPresetByName applies one of the device's catalog presets.
func (s *Session) ApplyPresetByName(ctx context.Context, key DeviceKey, name string) error {
	d, err := s.catalog.schedulable(key)
	if err != nil {
		return err
	}
	preset, ok := d.Preset(name)
	if !ok {
		return fmt.Errorf("%w: %q for %s", ErrPresetNotFound, name, key)
	}
	return s.applyPreset(ctx, key, preset)
}

func (s *Session) applyPreset(ctx context.Context, key DeviceKey, preset Preset) error {
	if err := s.checkReady(); err != nil {
		return err
	}

	started := s.now()
	value := presetSchedule(preset)
	cmd := Command{
		Action: ActionApplyPreset,
		Device: key,
		Detail: map[string]any{"preset": preset.Name, "slots": len(value)},
	}

	if err := s.store.ReplaceAll(ctx, s.schedulePath(key), value); err != nil {
		err = fmt.Errorf("%w: apply preset to %s on %s: %w", ErrWriteFailed, key, s.floor, err)
		s.record(ctx, cmd, started, err)
		return err
	}
	s.record(ctx, cmd, started, nil)
	s.logger.Info("schedule preset applied", "floor", s.floor, "device", key, "preset", preset.Name)
	return nil
}

// ClearAll removes every slot of a device's schedule.
func (s *Session) ClearAll(ctx context.Context, key DeviceKey) error {
	if _, err := s.catalog.schedulable(key); err != nil {
		return err
	}
	if err := s.checkReady(); err != nil {
		return err
	}

	started := s.now()
	cmd := Command{Action: ActionClearSchedule, Device: key}
	if err := s.store.ReplaceAll(ctx, s.schedulePath(key), map[string]any{}); err != nil {
		err = fmt.Errorf("%w: clear schedule of %s on %s: %w", ErrWriteFailed, key, s.floor, err)
		s.record(ctx, cmd, started, err)
		return err
	}
	s.record(ctx, cmd, started, nil)
	return nil
}

// presetSchedule builds the stored schedule for a preset, skipping empty
// periods.
func presetSchedule(p Preset) Schedule {
	out := make(Schedule, len(p.Periods))
	for i, period := range p.Periods {
		if period.IsEmpty() {
			continue
		}
		out[SlotID(i+1)] = period
	}
	return out
}

func validatePreset(d Device, p Preset) error {
	if len(p.Periods) != d.PeriodArity {
		return fmt.Errorf("%w: %d periods for %d slots of %s", ErrInvalidPreset, len(p.Periods), d.PeriodArity, d.Key)
	}
	for i, period := range p.Periods {
		for _, v := range []string{period.Start, period.End} {
			if err := validClockOrEmpty(v); err != nil {
				return fmt.Errorf("%w: period %d: %w", ErrInvalidPreset, i+1, err)
			}
		}
	}
	return nil
}
