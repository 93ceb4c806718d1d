package influxdb

import (
	"sort"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementRelayState   = "relay_state"
	MeasurementRelayMode    = "relay_mode"
	MeasurementRelayCommand = "relay_command"
)

// WriteRelayState records one point per relay plus one mode point for a
// floor snapshot. Relays are written in key order.
//
// Example:
//
//	client.WriteRelayState("floor1", "manual",
//	    map[string]bool{"light": true, "pump": false}, time.Now())
func (c *Client) WriteRelayState(floor, mode string, status map[string]bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	for _, p := range relayStatePoints(floor, mode, status, at) {
		c.writer.WritePoint(p)
	}
}

// WriteCommand records the outcome of one operator command.
//
// Parameters:
//   - floor: Floor identifier
//   - action: Command name (e.g. "toggle", "set_mode")
//   - device: Device key, empty for floor-wide commands
//   - outcome: "applied", "rejected", "failed" or "rolled_back"
//   - duration: Time the remote write took
func (c *Client) WriteCommand(floor, action, device, outcome string, duration time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(commandPoint(floor, action, device, outcome, duration, at))
}

func relayStatePoints(floor, mode string, status map[string]bool, at time.Time) []*write.Point {
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	points := make([]*write.Point, 0, len(keys)+1)
	points = append(points, write.NewPoint(
		MeasurementRelayMode,
		map[string]string{"floor": floor},
		map[string]interface{}{"mode": mode},
		at,
	))

	for _, k := range keys {
		on := 0
		if status[k] {
			on = 1
		}
		points = append(points, write.NewPoint(
			MeasurementRelayState,
			map[string]string{"floor": floor, "device": k},
			map[string]interface{}{"on": on},
			at,
		))
	}
	return points
}

func commandPoint(floor, action, device, outcome string, duration time.Duration, at time.Time) *write.Point {
	tags := map[string]string{
		"floor":   floor,
		"action":  action,
		"outcome": outcome,
	}
	if device != "" {
		tags["device"] = device
	}
	return write.NewPoint(
		MeasurementRelayCommand,
		tags,
		map[string]interface{}{"duration_ms": float64(duration.Microseconds()) / 1000},
		at,
	)
}
