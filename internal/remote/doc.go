// Package remote is the shared state channel between Hydro Core, the
// dashboards and the relay controllers.
//
// State is one hierarchical JSON tree addressed by slash-separated paths
// such as "floor1/relay_status". Three operations are supported:
//
//   - Subscribe delivers the value at a path, then every change to it.
//   - ReplaceAll overwrites the value at a path.
//   - MergeFields updates named children of a path and leaves the rest.
//
// Value rules follow realtime-database conventions: absent and null are the
// same thing, writing null or an empty object deletes a node, and parents
// left without children disappear.
//
// Two Store implementations exist. MemoryStore keeps the tree in process
// and is used for tests and single-node setups. MQTTStore keeps every
// document (by default {floor}/{slice}) as a retained JSON message on the
// broker, so the relay firmware and other clients see the same state.
package remote
