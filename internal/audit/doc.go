// Package audit records operator commands in the SQLite command_log table
// and serves them back for the API's command history.
//
// Recorder is the write path: it implements relay.CommandRecorder, queues
// commands on a bounded channel and inserts them from a single goroutine,
// so a slow disk never delays a relay command. When the queue is full the
// command is dropped and a warning is logged.
//
// SQLiteRepository is the read path, with filtering by floor, action and
// device and limit/offset pagination.
package audit
