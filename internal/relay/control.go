package relay

import (
	"context"
	"fmt"
)

// SetMode writes the floor's control mode.
//
// Switching to manual also overwrites the relay status with every device
// off, so nothing keeps running that the automatic controller switched on.
// Switching to automatic leaves relay status to the controller.
//
// The mirror is updated by the store's delivery of the write. A failure is
// reported without rollback; the call may be retried as is.
func (s *Session) SetMode(ctx context.Context, mode Mode) error {
	if mode != ModeManual && mode != ModeAutomatic {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if err := s.checkReady(); err != nil {
		return err
	}

	started := s.now()
	cmd := Command{Action: ActionSetMode, Detail: map[string]any{"mode": string(mode)}}

	if err := s.store.ReplaceAll(ctx, Path(s.floor, SliceMode), string(mode)); err != nil {
		err = fmt.Errorf("%w: set mode %s on %s: %w", ErrWriteFailed, mode, s.floor, err)
		s.record(ctx, cmd, started, err)
		return err
	}

	if mode == ModeManual {
		if err := s.store.ReplaceAll(ctx, Path(s.floor, SliceStatus), allOff(s.catalog)); err != nil {
			err = fmt.Errorf("%w: reset relays on %s: %w", ErrWriteFailed, s.floor, err)
			cmd.Detail["reset"] = "failed"
			s.record(ctx, cmd, started, err)
			return err
		}
		cmd.Detail["reset"] = "all_off"
	}

	s.record(ctx, cmd, started, nil)
	s.logger.Info("floor mode set", "floor", s.floor, "mode", mode)
	return nil
}

// Toggle flips one relay and returns its new value.
//
// The flip is applied to the mirror before the remote write. If the write
// fails the relay is restored to the value captured before the flip, and
// the error wraps ErrWriteFailed. Outside manual mode Toggle changes
// nothing and returns ErrAutomaticMode; before the mode has been received
// it returns ErrLoading.
func (s *Session) Toggle(ctx context.Context, key DeviceKey) (bool, error) {
	if !s.catalog.Has(key) {
		return false, fmt.Errorf("%w: %q", ErrUnknownDevice, key)
	}

	started := s.now()
	cmd := Command{Action: ActionToggle, Device: key}

	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if !s.loaded[SliceMode] {
		s.mu.Unlock()
		return false, ErrLoading
	}
	if s.state.Mode != ModeManual {
		mode := s.state.Mode
		s.mu.Unlock()
		cmd.Outcome = OutcomeRejected
		cmd.Detail = map[string]any{"mode": string(mode)}
		s.record(ctx, cmd, started, ErrAutomaticMode)
		return false, ErrAutomaticMode
	}
	prev := s.state.Status[key]
	next := !prev
	s.state.Status[key] = next
	s.touch()
	s.mu.Unlock()
	s.publish()

	cmd.Detail = map[string]any{"from": prev, "to": next}

	// The store may deliver the status snapshot before returning; mu must
	// not be held here.
	err := s.store.MergeFields(ctx, Path(s.floor, SliceStatus), map[string]any{string(key): next})
	if err != nil {
		s.mu.Lock()
		restored := !s.stopped
		if restored {
			s.state.Status[key] = prev
			s.touch()
		}
		s.mu.Unlock()
		if restored {
			s.publish()
		}

		err = fmt.Errorf("%w: toggle %s on %s: %w", ErrWriteFailed, key, s.floor, err)
		cmd.Outcome = OutcomeRolledBack
		s.record(ctx, cmd, started, err)
		s.logger.Warn("toggle failed, relay restored",
			"floor", s.floor, "device", key, "restored", prev, "error", err)
		return prev, err
	}

	s.record(ctx, cmd, started, nil)
	s.logger.Debug("relay toggled", "floor", s.floor, "device", key, "on", next)
	return next, nil
}
