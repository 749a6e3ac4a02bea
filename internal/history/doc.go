// Package history appends conversation lines to a shared log file and
// uploads the recent tail to the home automation hub as an entity state.
package history
