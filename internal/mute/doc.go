// Package mute keeps the in-process mute state in step with the shared mute flag file.
// Several satellite processes on one host share the flag; each polls it about once per second
// and may also watch the file for changes.
package mute
