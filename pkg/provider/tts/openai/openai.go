// Package openai provides a TTS provider backed by the OpenAI speech
// endpoint. Audio is requested in the "pcm" format: raw 16-bit little-endian
// mono at 24 kHz.
package openai

import (
	"context"
	"fmt"
	"io"
	"slices"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/studysync/pkg/provider/tts"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini-tts"

	// DefaultVoice is used for requests without a voice.
	DefaultVoice = "alloy"

	pcmSampleRate = 24000
)

var voices = []string{
	"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer",
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider.
type Provider struct {
	client oai.Client
	model  string
}

// New creates a speech provider. opts are passed to the OpenAI client, so
// option.WithBaseURL and friends work as usual.
func New(apiKey, model string, opts ...option.RequestOption) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Voices implements tts.Provider.
func (p *Provider) Voices() []string {
	return slices.Clone(voices)
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("openai tts: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("openai tts: response contained no audio")
	}
	return &tts.Speech{PCM: pcm, SampleRate: pcmSampleRate}, nil
}
