// Package metrics exposes Prometheus metrics for the voice satellite.
package metrics
