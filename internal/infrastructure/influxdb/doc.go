// Package influxdb records relay telemetry in InfluxDB v2.
//
// Every floor state change produces a relay_mode point and one relay_state
// point per device (on = 0/1), and every operator command produces a
// relay_command point tagged with its outcome. This gives growers an
// on/off history per relay without touching the control path: writes are
// batched and never block a command.
//
// The integration is optional; Connect returns ErrDisabled when
// influxdb.enabled is false and callers carry on without it.
package influxdb
