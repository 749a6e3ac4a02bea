// Package server exposes the satellite to the network: the TCP listener hubs
// connect to, the mDNS advertisement that lets them find it, and the HTTP
// monitoring API with manual actions and a websocket event stream.
package server
