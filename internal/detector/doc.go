// Package detector provides wake word and stop word detectors.
// Each detector wraps an opaque streaming classifier behind a single ProcessFrame contract;
// the activation rule of each model type (sliding-window cutoff or probability threshold)
// lives inside the detector, not in the caller.
package detector
