package floor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/hydro-core/internal/relay"
)

// StateWriter stores relay telemetry. *influxdb.Client implements it.
type StateWriter interface {
	WriteRelayState(floor, mode string, status map[string]bool, at time.Time)
	WriteCommand(floor, action, device, outcome string, duration time.Duration, at time.Time)
}

// ActiveGauge tracks relays that are on. *metrics.Collector implements it.
type ActiveGauge interface {
	SetActive(floor string, n int)
}

// Telemetry forwards floor state and command outcomes to a time-series
// writer and an active-relay gauge. It is both a Listener and a
// relay.CommandRecorder.
//
// Relay state is written only when a floor's mode or status actually
// changes; schedule edits and subscription errors do not produce points.
type Telemetry struct {
	writer StateWriter
	gauge  ActiveGauge

	mu   sync.Mutex
	last map[string]string
}

var (
	_ Listener              = (*Telemetry)(nil)
	_ relay.CommandRecorder = (*Telemetry)(nil)
)

// NewTelemetry creates a telemetry forwarder. Either target may be nil.
func NewTelemetry(writer StateWriter, gauge ActiveGauge) *Telemetry {
	return &Telemetry{
		writer: writer,
		gauge:  gauge,
		last:   make(map[string]string),
	}
}

// FloorChanged implements Listener.
func (t *Telemetry) FloorChanged(state relay.FloorState) {
	if state.Loading {
		return
	}
	if t.gauge != nil {
		t.gauge.SetActive(state.Floor, state.ActiveCount())
	}
	if t.writer == nil {
		return
	}

	status := make(map[string]bool, len(state.Status))
	for k, v := range state.Status {
		status[string(k)] = v
	}
	fp := fingerprint(state.Mode, status)

	t.mu.Lock()
	unchanged := t.last[state.Floor] == fp
	t.last[state.Floor] = fp
	t.mu.Unlock()
	if unchanged {
		return
	}
	t.writer.WriteRelayState(state.Floor, string(state.Mode), status, state.UpdatedAt)
}

// RecordCommand implements relay.CommandRecorder.
func (t *Telemetry) RecordCommand(_ context.Context, cmd relay.Command) {
	if t.writer == nil {
		return
	}
	t.writer.WriteCommand(cmd.Floor, string(cmd.Action), string(cmd.Device), string(cmd.Outcome), cmd.Duration, cmd.At)
}

func fingerprint(mode relay.Mode, status map[string]bool) string {
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(mode))
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		if status[k] {
			b.WriteString("=1")
		} else {
			b.WriteString("=0")
		}
	}
	return b.String()
}
