// Package session holds the process-wide satellite state shared by the audio pipeline
// and the hub connection handler. Every field is guarded by an atomic or a lock.
package session
