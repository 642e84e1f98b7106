package resilience

import (
	"context"
	"slices"

	"github.com/MrWong99/studysync/pkg/provider/image"
	"github.com/MrWong99/studysync/pkg/provider/llm"
	"github.com/MrWong99/studysync/pkg/provider/stt"
	"github.com/MrWong99/studysync/pkg/provider/tts"
)

var (
	_ llm.Provider   = (*LLM)(nil)
	_ tts.Provider   = (*Speech)(nil)
	_ stt.Provider   = (*Transcriber)(nil)
	_ image.Provider = (*Images)(nil)
)

// LLM is an [llm.Provider] that fails over across text backends.
type LLM struct{ *Group[llm.Provider] }

// NewLLM returns an LLM with primary as the preferred backend.
func NewLLM(name string, primary llm.Provider, cfg GroupConfig) *LLM {
	return &LLM{NewGroup(name, primary, cfg)}
}

// Complete implements llm.Provider.
func (f *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.Group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion implements llm.Provider. Only opening the stream fails
// over; an error reported on the channel is final.
func (f *LLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Call(ctx, f.Group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Capabilities reports the primary backend's capabilities.
func (f *LLM) Capabilities() llm.ModelCapabilities {
	return f.Primary().Capabilities()
}

// Speech is a [tts.Provider] that fails over across speech backends.
type Speech struct{ *Group[tts.Provider] }

// NewSpeech returns a Speech with primary as the preferred backend.
func NewSpeech(name string, primary tts.Provider, cfg GroupConfig) *Speech {
	return &Speech{NewGroup(name, primary, cfg)}
}

// Synthesize implements tts.Provider. Voice names differ between vendors, so
// a backend that does not list the requested voice gets the request with the
// voice cleared and speaks in its default voice.
func (f *Speech) Synthesize(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	return Call(ctx, f.Group, func(p tts.Provider) (*tts.Speech, error) {
		r := req
		if r.Voice != "" && !slices.Contains(p.Voices(), r.Voice) {
			r.Voice = ""
		}
		return p.Synthesize(ctx, r)
	})
}

// Voices reports the primary backend's voices.
func (f *Speech) Voices() []string {
	return f.Primary().Voices()
}

// Transcriber is an [stt.Provider] that fails over across transcription
// backends.
type Transcriber struct{ *Group[stt.Provider] }

// NewTranscriber returns a Transcriber with primary as the preferred backend.
func NewTranscriber(name string, primary stt.Provider, cfg GroupConfig) *Transcriber {
	return &Transcriber{NewGroup(name, primary, cfg)}
}

// Transcribe implements stt.Provider.
func (f *Transcriber) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	return Call(ctx, f.Group, func(p stt.Provider) (*stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

// Images is an [image.Provider] that fails over across image backends.
type Images struct{ *Group[image.Provider] }

// NewImages returns an Images with primary as the preferred backend.
func NewImages(name string, primary image.Provider, cfg GroupConfig) *Images {
	return &Images{NewGroup(name, primary, cfg)}
}

// Generate implements image.Provider.
func (f *Images) Generate(ctx context.Context, req image.Request) (*image.Image, error) {
	return Call(ctx, f.Group, func(p image.Provider) (*image.Image, error) {
		return p.Generate(ctx, req)
	})
}
