package floor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hydro-core/internal/relay"
	"github.com/nerrad567/hydro-core/internal/remote"
)

const (
	defaultRetryInterval    = 2 * time.Second
	defaultMaxRetryInterval = time.Minute
)

// Logger defines the logging interface used by the Supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener receives every state change of every floor.
//
// FloorChanged runs on the delivering goroutine, serially per floor. It
// must return quickly and must not issue session commands.
type Listener interface {
	FloorChanged(state relay.FloorState)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(relay.FloorState)

// FloorChanged implements Listener.
func (f ListenerFunc) FloorChanged(state relay.FloorState) { f(state) }

// Options configures a Supervisor.
type Options struct {
	Floors  []string
	Store   remote.Store
	Catalog *relay.Catalog

	// Recorder receives every command outcome from every floor.
	Recorder relay.CommandRecorder

	// OnSubscriptionError is passed to each session.
	OnSubscriptionError func(floor string, slice relay.Slice, err error)

	// RetryInterval is the first delay before re-observing a failed floor;
	// it grows by half on each failure up to MaxRetryInterval.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	Logger Logger
}

// Supervisor owns the per-floor sessions.
type Supervisor struct {
	opts     Options
	floors   []string
	sessions map[string]*relay.Session
	logger   Logger

	listenersMu sync.RWMutex
	listeners   []Listener

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a session for every floor. Sessions are not observing until
// Start.
func New(opts Options) (*Supervisor, error) {
	if len(opts.Floors) == 0 {
		return nil, ErrNoFloors
	}
	if opts.Catalog == nil {
		opts.Catalog = relay.DefaultCatalog()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.MaxRetryInterval < opts.RetryInterval {
		opts.MaxRetryInterval = max(defaultMaxRetryInterval, opts.RetryInterval)
	}

	s := &Supervisor{
		opts:     opts,
		floors:   make([]string, 0, len(opts.Floors)),
		sessions: make(map[string]*relay.Session, len(opts.Floors)),
		logger:   opts.Logger,
	}
	for _, floor := range opts.Floors {
		if _, dup := s.sessions[floor]; dup {
			return nil, fmt.Errorf("duplicate floor %q", floor)
		}
		session, err := relay.NewSession(relay.SessionOptions{
			Floor:               floor,
			Store:               opts.Store,
			Catalog:             opts.Catalog,
			Recorder:            opts.Recorder,
			OnSubscriptionError: opts.OnSubscriptionError,
			Logger:              opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating session for %q: %w", floor, err)
		}
		session.OnChange(s.broadcast)
		s.sessions[floor] = session
		s.floors = append(s.floors, floor)
	}
	return s, nil
}

// AddListener registers l for state changes on every floor.
func (s *Supervisor) AddListener(l Listener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

func (s *Supervisor) broadcast(state relay.FloorState) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l.FloorChanged(state)
	}
}

// Start begins observing every floor. Floors whose subscriptions fail are
// retried in the background with backoff until Stop or ctx ends; Start
// itself only fails when called twice.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	for _, floor := range s.floors {
		session := s.sessions[floor]
		if err := session.Observe(runCtx); err != nil {
			s.logger.Warn("floor observation failed, retrying in background", "floor", floor, "error", err)
			s.wg.Add(1)
			go s.retry(runCtx, session)
		}
	}
	s.logger.Info("floor supervisor started", "floors", len(s.floors))
	return nil
}

// retry re-observes a floor until it succeeds or ctx ends.
func (s *Supervisor) retry(ctx context.Context, session *relay.Session) {
	defer s.wg.Done()

	backoff := s.opts.RetryInterval
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		err := session.Observe(ctx)
		switch {
		case err == nil:
			s.logger.Info("floor observation recovered", "floor", session.Floor(), "attempts", attempt)
			return
		case errors.Is(err, relay.ErrSessionStopped), errors.Is(err, relay.ErrAlreadyObserving):
			return
		}
		s.logger.Warn("floor observation retry failed",
			"floor", session.Floor(), "attempt", attempt, "backoff", backoff.String(), "error", err)

		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > s.opts.MaxRetryInterval {
			backoff = s.opts.MaxRetryInterval
		}
	}
}

// Stop ends retries and stops every session. Errors from individual
// sessions are joined.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	var errs []error
	for _, floor := range s.floors {
		if err := s.sessions[floor].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", floor, err))
		}
	}
	s.logger.Info("floor supervisor stopped")
	return errors.Join(errs...)
}

// Floors returns the configured floor identifiers in configuration order.
func (s *Supervisor) Floors() []string {
	out := make([]string, len(s.floors))
	copy(out, s.floors)
	return out
}

// Session returns the session for floor.
func (s *Supervisor) Session(floor string) (*relay.Session, error) {
	session, ok := s.sessions[floor]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFloor, floor)
	}
	return session, nil
}

// States returns the current state of every floor in configuration order.
func (s *Supervisor) States() []relay.FloorState {
	out := make([]relay.FloorState, 0, len(s.floors))
	for _, floor := range s.floors {
		out = append(out, s.sessions[floor].State())
	}
	return out
}

// Observing reports, per floor, whether its session is live.
func (s *Supervisor) Observing() map[string]bool {
	out := make(map[string]bool, len(s.floors))
	for _, floor := range s.floors {
		out[floor] = s.sessions[floor].Observing()
	}
	return out
}

// Catalog returns the device catalog shared by all floors.
func (s *Supervisor) Catalog() *relay.Catalog {
	return s.opts.Catalog
}
