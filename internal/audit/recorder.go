package audit

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/hydro-core/internal/relay"
)

// DefaultQueueSize is the number of commands buffered before Recorder
// starts dropping.
const DefaultQueueSize = 256

const insertTimeout = 5 * time.Second

// Logger is the logging interface used by Recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// QueueSize defaults to DefaultQueueSize.
	QueueSize int

	Logger Logger

	// OnDrop is called for every command dropped because the queue is full.
	OnDrop func()
}

// Recorder writes relay commands to a Repository asynchronously.
type Recorder struct {
	repo   Repository
	logger Logger
	onDrop func()

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	done   chan struct{}
}

var _ relay.CommandRecorder = (*Recorder)(nil)

// NewRecorder creates a Recorder and starts its writer goroutine.
// Call Close to flush queued entries and stop it.
func NewRecorder(repo Repository, opts RecorderOptions) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	r := &Recorder{
		repo:   repo,
		logger: opts.Logger,
		onDrop: opts.OnDrop,
		queue:  make(chan Entry, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// RecordCommand implements relay.CommandRecorder. It never blocks.
func (r *Recorder) RecordCommand(_ context.Context, cmd relay.Command) {
	entry := entryFromCommand(cmd)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("command log queue full, dropping entry",
			"floor", entry.Floor, "action", entry.Action, "outcome", entry.Outcome)
		if r.onDrop != nil {
			r.onDrop()
		}
	}
}

// Close stops accepting commands, writes everything already queued and
// returns once the writer has finished or ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRecorderClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		if err := r.repo.Create(ctx, &entry); err != nil {
			r.logger.Error("writing command log entry failed",
				"floor", entry.Floor, "action", entry.Action, "error", err)
		}
		cancel()
	}
}

func entryFromCommand(cmd relay.Command) Entry {
	e := Entry{
		Floor:     cmd.Floor,
		Action:    string(cmd.Action),
		DeviceKey: string(cmd.Device),
		Outcome:   string(cmd.Outcome),
		Actor:     cmd.Actor,
		CreatedAt: cmd.At,
	}
	if len(cmd.Detail) > 0 {
		e.Detail = make(map[string]any, len(cmd.Detail))
		for k, v := range cmd.Detail {
			e.Detail[k] = v
		}
	}
	if cmd.Err != nil {
		e.Error = cmd.Err.Error()
	}
	if cmd.Duration > 0 {
		if e.Detail == nil {
			e.Detail = make(map[string]any, 1)
		}
		e.Detail["duration_ms"] = cmd.Duration.Milliseconds()
	}
	return e
}
