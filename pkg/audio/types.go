// Package audio holds the audio primitives shared by the live conversation
// pipeline and the one-shot speech features: the PCM wire codec, playable
// buffers and the device interfaces for microphones and speakers.
//
// Samples are float32 in [-1, 1] while they live in memory and 16-bit
// little-endian PCM on the wire. Wire frames are base64-framed so they can be
// embedded in the JSON messages of the live providers.
package audio

import "time"

const (
	// CaptureSampleRate is the microphone rate expected by the live services.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of the audio returned by the live and
	// speech services.
	PlaybackSampleRate = 24000

	// CaptureFrameSize is the number of samples delivered per microphone tap.
	CaptureFrameSize = 4096
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// EncodedFrame is the wire form of one captured frame: 16-bit LE PCM,
// base64-encoded.
type EncodedFrame struct {
	// Data is the base64 text of the PCM bytes.
	Data string

	// SampleRate of the PCM payload in Hz.
	SampleRate int
}

// MIMEType returns the media type announced to the live services for this
// frame, e.g. "audio/pcm;rate=16000".
func (f EncodedFrame) MIMEType() string {
	return pcmMIMEType(f.SampleRate)
}

// Buffer is a decoded, playable block of audio. Data holds one slice per
// channel, each of the same length.
type Buffer struct {
	SampleRate int
	Data       [][]float32
}

// Channels returns the number of channels in the buffer.
func (b *Buffer) Channels() int {
	return len(b.Data)
}

// Len returns the number of sample frames per channel.
func (b *Buffer) Len() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the playback length of the buffer in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.SampleRate)
}

// Length returns the playback length as a [time.Duration].
func (b *Buffer) Length() time.Duration {
	return time.Duration(b.Duration() * float64(time.Second))
}

// Allocator creates buffers inside a rendering context. It is the only side
// effect of [DecodeAudioData].
type Allocator interface {
	// Allocate returns a zeroed buffer with the given shape.
	Allocate(channels, frames, sampleRate int) (*Buffer, error)
}

// Source is a handle to a buffer scheduled on an [OutputContext].
type Source interface {
	// Stop halts playback immediately. The ended callback still fires.
	// Stop is idempotent.
	Stop()
}

// OutputContext is a rendering context with a running clock that plays
// scheduled buffers. The render package provides the software
// implementation driven by an [OutputStream].
type OutputContext interface {
	Allocator

	// CurrentTime is the context clock in seconds. It only moves forward.
	CurrentTime() float64

	// Schedule plays buf starting at the context time at. When at is in the
	// past, playback begins immediately. onEnded is invoked once, after the
	// buffer finishes or is stopped. It may be nil.
	Schedule(buf *Buffer, at float64, onEnded func()) (Source, error)
}
