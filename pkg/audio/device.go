package audio

import (
	"context"
	"errors"
)

// ErrPermission is returned when a microphone or speaker cannot be acquired,
// either because access was denied or because no suitable device exists.
var ErrPermission = errors.New("audio: device permission denied or unavailable")

// InputConfig describes the capture format requested from an [InputDevice].
type InputConfig struct {
	// SampleRate in Hz. Mono is implied.
	SampleRate int

	// FrameSize is the number of samples per tap callback.
	FrameSize int
}

// InputDevice grants access to a microphone.
type InputDevice interface {
	// Open acquires the microphone. It may block while the operating system
	// asks for permission; cancelling ctx abandons the request. Errors wrap
	// [ErrPermission].
	Open(ctx context.Context, cfg InputConfig) (InputStream, error)
}

// InputStream is an acquired microphone.
type InputStream interface {
	// Start begins delivering frames to tap. tap runs on the device's audio
	// thread; frame is only valid for the duration of the call and tap must
	// not block.
	Start(tap func(frame []float32)) error

	// Close stops capture and releases the device. Close is idempotent.
	Close() error
}

// OutputConfig describes the playback format requested from an
// [OutputDevice].
type OutputConfig struct {
	SampleRate int

	// FrameSize is the number of samples requested per render callback.
	// Zero lets the device choose.
	FrameSize int
}

// OutputDevice grants access to a speaker.
type OutputDevice interface {
	// Open starts playback. render is called on the device's audio thread to
	// fill each output block with mono samples.
	Open(ctx context.Context, cfg OutputConfig, render func(out []float32)) (OutputStream, error)
}

// OutputStream is an acquired speaker.
type OutputStream interface {
	// Close stops playback and releases the device. Close is idempotent.
	Close() error
}
