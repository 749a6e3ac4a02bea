// Package satellite implements the hub-facing session handler.
//
// A single event loop goroutine owns the hub connection, the entities and
// the turn state machine. The audio pipeline, the player completion
// goroutines, the connection reader and the monitoring API hand their work
// to that loop through a channel; only SessionState crosses the boundary
// directly.
package satellite
