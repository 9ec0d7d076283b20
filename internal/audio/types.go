// Package audio manages microphone capture sessions: acquiring the device,
// buffering captured PCM chunks, and finalizing them into an audio asset.
package audio

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrPermissionDenied is returned when the microphone cannot be acquired.
	// Callers fall back to manual audio file selection.
	ErrPermissionDenied = errors.New("microphone access denied")

	// ErrAlreadyRecording is returned by Start while a session is recording.
	ErrAlreadyRecording = errors.New("capture session already recording")

	// ErrNoAudioCaptured is returned by Stop when the device produced no bytes.
	ErrNoAudioCaptured = errors.New("no audio captured")
)

// Fixed container for finalized recordings.
const (
	RecordingName        = "recording.wav"
	RecordingContentType = "audio/wav"
)

// State is the lifecycle state of a capture session.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// CaptureConfig describes how the microphone should be captured.
// Captured bytes are signed 16-bit little-endian PCM.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	ChunkSize   int
}

// Stream is a live device stream owned by one capture session.
type Stream interface {
	// Read returns captured PCM bytes and io.EOF once the stream is finalized.
	io.Reader

	// Stop asks the device to flush and finish. Read drains the remainder.
	Stop() error

	// Close releases the device tracks. Safe to call after Stop.
	Close() error
}

// Microphone is the external capture capability.
type Microphone interface {
	// Open requests microphone access. A refusal wraps ErrPermissionDenied.
	Open(ctx context.Context, cfg CaptureConfig) (Stream, error)
}

// Chunk is delivered to listeners as bytes arrive from the device.
type Chunk struct {
	Data   []byte
	Level  float64 // RMS of the chunk
	Speech bool    // voice activity after this chunk
}
