// Package audio handles microphone capture and media playback for the satellite.
// It converts captured frames to 16 kHz mono s16le PCM (clipping float input),
// runs ffmpeg as the capture source, and drives mpv players with IPC volume control.
package audio
