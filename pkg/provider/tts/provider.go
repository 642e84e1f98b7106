// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider turns a piece of text into a complete clip of 16-bit
// little-endian mono PCM. The caller decodes the clip with
// audio.DecodeAudioData and plays it on an output device.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req.Text in req.Voice. An empty voice selects the
	// provider default. Unknown voices are rejected by the backend.
	Synthesize(ctx context.Context, req Request) (*Speech, error)

	// Voices returns the prebuilt voice names the provider accepts.
	Voices() []string
}
