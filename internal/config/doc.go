// Package config provides configuration loading and validation for the voice satellite.
// It handles YAML-based configuration with per-section validation, applies defaults,
// and lets environment variables (optionally from a .env file) override secrets.
package config
