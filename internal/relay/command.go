package relay

import (
	"context"
	"time"
)

// Action names a command kind.
type Action string

// Command actions.
const (
	ActionSetMode       Action = "set_mode"
	ActionToggle        Action = "toggle"
	ActionSetPeriod     Action = "set_period"
	ActionApplyPreset   Action = "apply_preset"
	ActionClearSchedule Action = "clear_schedule"
)

// Outcome is the result of a command.
type Outcome string

// Command outcomes.
const (
	// OutcomeApplied: the remote write succeeded.
	OutcomeApplied Outcome = "applied"

	// OutcomeRejected: the command was refused before any write.
	OutcomeRejected Outcome = "rejected"

	// OutcomeFailed: the remote write failed.
	OutcomeFailed Outcome = "failed"

	// OutcomeRolledBack: the remote write failed and an optimistic local
	// change was reverted.
	OutcomeRolledBack Outcome = "rolled_back"
)

// Command describes one command issued through a Session, for audit and
// metrics.
type Command struct {
	Floor    string
	Action   Action
	Device   DeviceKey // empty for ActionSetMode
	Detail   map[string]any
	Outcome  Outcome
	Err      error
	Actor    string
	Duration time.Duration
	At       time.Time
}

// CommandRecorder receives every command outcome. RecordCommand is called
// synchronously on the commanding goroutine and must not block.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, cmd Command)
}

// MultiRecorder fans a command out to several recorders.
type MultiRecorder []CommandRecorder

// RecordCommand implements CommandRecorder.
func (m MultiRecorder) RecordCommand(ctx context.Context, cmd Command) {
	for _, r := range m {
		if r != nil {
			r.RecordCommand(ctx, cmd)
		}
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordCommand(context.Context, Command) {}

type actorKey struct{}

// WithActor attaches the identity issuing commands to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the identity set by WithActor, or "".
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
