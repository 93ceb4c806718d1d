// Package api provides the HTTP REST API and WebSocket server for Hydro Core.
//
// It binds dashboards and wall panels to the floor control sessions: reads
// return mirrored floor state, commands call the session operations, and
// every state change is pushed to subscribed WebSocket clients.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
//
// # Routes
//
// All routes live under /api/v1. Everything except /health and /ws needs
// an HS256 bearer token; floor routes additionally require the token's
// floors claim to include the floor (an empty claim grants every floor).
//
//	GET    /floors/{floor}                          mirrored state, loading=true until first snapshots
//	PUT    /floors/{floor}/mode                     {"mode":"manual"|"automatic"}
//	POST   /floors/{floor}/relays/{device}/toggle   409 in automatic mode
//	PATCH  /floors/{floor}/schedule/{device}/{slot} {"field","value"} or {"field","delta_minutes"}
//	PUT    /floors/{floor}/schedule/{device}        {"preset":name} or {"periods":[...]}
//	DELETE /floors/{floor}/schedule/{device}
//	GET    /floors/{floor}/commands                 command log, newest first
//
// # WebSocket
//
// Clients obtain a single-use ticket from POST /auth/ws-ticket, connect to
// /ws?ticket=..., and subscribe to channels named "floor.{id}". Each state
// change of that floor arrives as a "floor.state_changed" event carrying
// the full floor state. Subscribing also sends one "floor.snapshot" event
// per granted floor so a client can render before the next change.
//
// # Graceful Degradation
//
// Reads keep working while the broker is down: sessions serve their last
// known state and report the subscription error in the state body.
// Commands fail with 502 until the store accepts writes again.
package api
