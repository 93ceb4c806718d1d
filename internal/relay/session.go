package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hydro-core/internal/remote"
)

// Logger defines the logging interface used by the Session.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChangeFunc receives a copy of the floor state after every change.
type ChangeFunc func(FloorState)

// SessionOptions configures a Session.
type SessionOptions struct {
	// Floor is the floor identifier, used as the first store path segment.
	Floor string

	// Store is the remote state channel. Required.
	Store remote.Store

	// Catalog defaults to DefaultCatalog().
	Catalog *Catalog

	// Recorder receives command outcomes. Optional.
	Recorder CommandRecorder

	// OnSubscriptionError is called when a slice subscription delivers an
	// error. Optional; it runs on the store's delivery goroutine.
	OnSubscriptionError func(floor string, slice Slice, err error)

	Logger Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Session is the control session for one floor.
//
// It mirrors the floor's mode, relay status and schedule, and is the only
// component that mutates that mirror. A Session is used once: Observe
// starts it and Stop ends it for good.
type Session struct {
	floor    string
	store    remote.Store
	catalog  *Catalog
	recorder CommandRecorder
	onSubErr func(string, Slice, error)
	logger   Logger
	now      func() time.Time

	mu        sync.Mutex
	state     FloorState
	loaded    map[Slice]bool
	subs      []remote.Subscription
	observing bool
	stopped   bool
	version   uint64
	listeners []ChangeFunc

	// notifyMu serialises listener calls. Lock order: notifyMu, then mu.
	notifyMu sync.Mutex
	notified uint64
}

// NewSession creates a session for one floor. Call Observe to start it.
func NewSession(opts SessionOptions) (*Session, error) {
	if err := ValidateFloor(opts.Floor); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, ErrStoreRequired
	}
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		floor:    opts.Floor,
		store:    opts.Store,
		catalog:  opts.Catalog,
		recorder: opts.Recorder,
		onSubErr: opts.OnSubscriptionError,
		logger:   opts.Logger,
		now:      opts.Now,
		loaded:   make(map[Slice]bool, 3),
	}
	s.state = FloorState{
		Floor:    opts.Floor,
		Mode:     ModeManual,
		Status:   allOff(opts.Catalog),
		Schedule: make(map[DeviceKey]Schedule),
		Loading:  true,
	}
	return s, nil
}

// Floor returns the floor identifier.
func (s *Session) Floor() string {
	return s.floor
}

// Catalog returns the session's device catalog.
func (s *Session) Catalog() *Catalog {
	return s.catalog
}

// Observe starts the mode, status and schedule subscriptions.
//
// Snapshots may be delivered before Observe returns. If any subscription
// fails, the ones already started are released and the session remains
// unstarted. The subscriptions stay active until Stop; ctx only bounds
// the subscribe calls.
func (s *Session) Observe(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return ErrSessionStopped
	case s.observing:
		s.mu.Unlock()
		return ErrAlreadyObserving
	}
	s.observing = true
	s.mu.Unlock()

	// Subscribe without holding mu: stores may deliver the first snapshot
	// synchronously, and the handler takes mu.
	subs := make([]remote.Subscription, 0, 3)
	for _, slice := range Slices() {
		sub, err := s.store.Subscribe(ctx, Path(s.floor, slice), s.handler(slice))
		if err != nil {
			releaseAll(subs)
			s.mu.Lock()
			s.observing = false
			s.mu.Unlock()
			return fmt.Errorf("subscribing to %s: %w", Path(s.floor, slice), err)
		}
		subs = append(subs, sub)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		releaseAll(subs)
		return ErrSessionStopped
	}
	s.subs = subs
	s.mu.Unlock()

	s.logger.Info("floor session observing", "floor", s.floor)
	return nil
}

// Stop releases all subscriptions. No state change is applied after Stop
// returns. Stop is idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	subs := s.subs
	s.subs = nil
	wasObserving := s.observing
	s.mu.Unlock()

	// Unsubscribe outside mu. A delivery blocked on mu would otherwise hold
	// the store's dispatch lock that Unsubscribe may wait behind.
	err := releaseAll(subs)
	if wasObserving {
		s.logger.Info("floor session stopped", "floor", s.floor)
	}
	return err
}

func releaseAll(subs []remote.Subscription) error {
	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Observing reports whether Observe succeeded and Stop has not been called.
func (s *Session) Observing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs != nil && !s.stopped
}

// State returns a deep copy of the current floor state.
func (s *Session) State() FloorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// OnChange registers fn to receive the floor state after every change.
//
// Listeners are called serially in change order. They must not call
// Session command methods; State is safe.
func (s *Session) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// handler returns the snapshot callback for one slice.
func (s *Session) handler(slice Slice) remote.SnapshotFunc {
	return func(snap remote.Snapshot) {
		if s.apply(slice, snap) {
			s.publish()
		}
	}
}

// apply folds one snapshot into the mirror. It reports whether anything
// changed.
func (s *Session) apply(slice Slice, snap remote.Snapshot) bool {
	if snap.Err != nil {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return false
		}
		if s.state.Errors == nil {
			s.state.Errors = make(map[Slice]string)
		}
		s.state.Errors[slice] = snap.Err.Error()
		s.touch()
		s.mu.Unlock()

		s.logger.Warn("subscription error", "floor", s.floor, "slice", slice, "error", snap.Err)
		if s.onSubErr != nil {
			s.onSubErr(s.floor, slice, snap.Err)
		}
		return true
	}

	// Decode outside the lock; decoding only reads the immutable catalog.
	var (
		mode     Mode
		status   map[DeviceKey]bool
		schedule map[DeviceKey]Schedule
		clean    bool
	)
	switch slice {
	case SliceMode:
		mode, clean = decodeMode(snap.Value)
	case SliceStatus:
		status, clean = decodeStatus(snap.Value, s.catalog)
	case SliceSchedule:
		schedule, clean = decodeSchedule(snap.Value, s.catalog)
	}
	if !clean {
		s.logger.Warn("discarded malformed remote value",
			"floor", s.floor, "slice", slice, "bytes", len(snap.Value))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	switch slice {
	case SliceMode:
		s.state.Mode = mode
	case SliceStatus:
		s.state.Status = status
	case SliceSchedule:
		s.state.Schedule = schedule
	}
	delete(s.state.Errors, slice)
	if len(s.state.Errors) == 0 {
		s.state.Errors = nil
	}
	s.loaded[slice] = true
	s.state.Loading = !s.loaded[SliceStatus] || !s.loaded[SliceSchedule]
	s.touch()
	return true
}

// touch marks the state as changed. Caller holds mu.
func (s *Session) touch() {
	s.version++
	s.state.UpdatedAt = s.now()
}

// publish delivers the latest state to listeners, at most once per version.
func (s *Session) publish() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.version == s.notified || len(s.listeners) == 0 {
		s.notified = s.version
		s.mu.Unlock()
		return
	}
	s.notified = s.version
	state := s.state.Clone()
	listeners := make([]ChangeFunc, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

// ready checks that commands may be issued. Caller holds mu.
func (s *Session) ready() error {
	switch {
	case s.stopped:
		return ErrSessionStopped
	case !s.observing:
		return ErrNotObserving
	}
	return nil
}

// checkReady is ready for callers that do not hold mu.
func (s *Session) checkReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready()
}

// record reports a command outcome.
func (s *Session) record(ctx context.Context, cmd Command, started time.Time, err error) {
	cmd.Floor = s.floor
	cmd.Actor = ActorFromContext(ctx)
	cmd.At = started
	cmd.Duration = s.now().Sub(started)
	cmd.Err = err
	if cmd.Outcome == "" {
		cmd.Outcome = OutcomeApplied
		if err != nil {
			cmd.Outcome = OutcomeFailed
		}
	}
	s.recorder.RecordCommand(ctx, cmd)
}
