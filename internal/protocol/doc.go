// Package protocol implements the native API framing and message codec used between the satellite and the hub.
// It handles the plaintext frame layout (preamble, varint length, varint type), protobuf-encoded payloads,
// and the message catalogue the satellite sends and receives.
package protocol
