// Package prefs persists per-instance preferences (the active wake words) and
// reads the global settings shared by every satellite on the host.
package prefs
