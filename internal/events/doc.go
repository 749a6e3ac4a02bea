// Package events fans satellite lifecycle events out to local observers
// such as the monitoring websocket.
package events
