// Package relay is the relay control and scheduling core for one
// hydroponics installation.
//
// A Session keeps a local mirror of one floor's relay state, synchronised
// with a remote.Store through three independent subscriptions:
//
//	{floor}/relay_mode    "manual" | "automatic"
//	{floor}/relay_status  {device: bool}
//	{floor}/relay_time    {device: {periodN: {start, end}}}
//
// Each snapshot fully replaces its slice of the mirror. The session is the
// only writer of the mirror; commands go through it:
//
//   - SetMode writes the mode and, when switching to manual, resets every
//     relay to off.
//   - Toggle flips one relay optimistically and restores the pre-toggle
//     value if the remote write fails. It is refused in automatic mode and
//     until the mode has been received.
//   - SetPeriodField merges one field of one slot. ApplyPreset and ClearAll
//     overwrite a device's whole schedule.
//
// The device catalog is static. Devices with a period arity of zero are
// never scheduled.
//
// # Usage
//
//	session, err := relay.NewSession(relay.SessionOptions{
//	    Floor: "floor1",
//	    Store: store,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := session.Observe(ctx); err != nil {
//	    return err
//	}
//	defer session.Stop()
//
//	on, err := session.Toggle(ctx, relay.DeviceLight)
//
// # Thread Safety
//
// All Session methods are safe for concurrent use. Change listeners are
// called serially, in the order state changes were applied.
package relay
