// Package floor runs one relay control session per configured floor.
//
// The Supervisor owns the sessions, starts observation of every floor,
// keeps retrying floors whose subscriptions fail, and fans state changes
// out to listeners such as the WebSocket hub and telemetry. Floors share
// no mutable state; a failing floor never blocks the others.
package floor
