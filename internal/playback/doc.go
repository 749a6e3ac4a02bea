// Package playback sequences foreground audio (chimes, responses, announcements,
// timer alarms) against background music. Every foreground play gets a token;
// completions carry the token so stale ones can be discarded after a stop.
package playback
