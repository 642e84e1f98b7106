// Package stt defines the Provider interface for speech-to-text backends.
//
// Transcription is one-shot: the caller hands over a complete recording
// (a WAV, MP3, WebM or raw PCM file) and receives the full text.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in req.Audio.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}
