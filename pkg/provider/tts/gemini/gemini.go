// Package gemini provides a TTS provider backed by the Gemini speech
// generation models. The API answers with raw 16-bit PCM, usually at 24 kHz,
// announced in the MIME type of the returned inline data.
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"slices"
	"strconv"

	"google.golang.org/genai"

	"github.com/MrWong99/studysync/pkg/audio"
	"github.com/MrWong99/studysync/pkg/provider/tts"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash-preview-tts"

// DefaultVoice is used for requests without a voice.
const DefaultVoice = "Kore"

// voices lists the prebuilt voices of the speech models.
var voices = []string{
	"Kore", "Puck", "Charon", "Fenrir", "Aoede", "Leda", "Orus", "Zephyr",
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider.
type Provider struct {
	client *genai.Client
	model  string
}

// New wraps a genai client. An empty model selects DefaultModel.
func New(client *genai.Client, model string) *Provider {
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model}
}

// Voices implements tts.Provider.
func (p *Provider) Voices() []string {
	return slices.Clone(voices)
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("gemini tts: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Text), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini tts: generate: %w", err)
	}

	var (
		pcm  bytes.Buffer
		rate int
	)
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part.InlineData == nil {
				continue
			}
			if rate == 0 {
				rate = sampleRate(part.InlineData.MIMEType)
			}
			pcm.Write(part.InlineData.Data)
		}
	}
	if pcm.Len() == 0 {
		return nil, fmt.Errorf("gemini tts: response contained no audio")
	}
	return &tts.Speech{PCM: pcm.Bytes(), SampleRate: rate}, nil
}

// sampleRate reads the rate parameter of an "audio/L16;rate=24000" style
// media type, defaulting to the playback rate.
func sampleRate(mimeType string) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return audio.PlaybackSampleRate
	}
	if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
		return r
	}
	return audio.PlaybackSampleRate
}
