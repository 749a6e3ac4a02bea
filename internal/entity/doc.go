// Package entity models the entities the satellite exposes to the hub:
// a media player, text sensors, the mute switch and buttons.
package entity
