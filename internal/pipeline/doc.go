// Package pipeline runs the audio context: it reads capture frames, forwards them
// while a turn is streaming, feeds the wake and stop detectors, applies the shared
// refractory gate and polls the shared mute flag.
package pipeline
