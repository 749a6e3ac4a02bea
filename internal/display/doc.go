// Package display wakes the local screen for a voice interaction and
// restores its power-saving timeout afterwards.
package display
