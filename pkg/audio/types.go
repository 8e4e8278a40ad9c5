// Package audio holds the PCM primitives shared by the capture pipeline, the
// playback scheduler and the live transports: the [Frame] type and the
// float32 / int16 conversions the wire format requires.
//
// Sub-packages:
//
//   - capture: microphone frames to outbound wire chunks.
//   - playback: gapless, interruptible scheduling of inbound audio.
//   - device: malgo and oto bindings for the real microphone and speaker.
package audio

import "time"

// Frame is one fixed-size block of captured audio, already encoded as
// little-endian int16 PCM.
type Frame struct {
	// Data is the PCM payload.
	Data []byte

	// SampleRate in Hz (16000 for the live engine's input).
	SampleRate int

	// Channels is always 1 for the live engine.
	Channels int

	// Timestamp marks the frame start relative to capture start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
