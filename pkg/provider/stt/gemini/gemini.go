// Package gemini provides an STT provider that asks a Gemini model to
// transcribe an inline audio recording.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/studysync/pkg/provider/stt"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

const instruction = "Transcribe the speech in this recording verbatim. " +
	"Reply with the transcript only, without timestamps, speaker labels or commentary."

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider.
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

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("gemini stt: audio must not be empty")
	}
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "audio/wav"
	}

	prompt := instruction
	if req.Language != "" {
		prompt += " The speech is in language " + req.Language + "."
	}
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(req.Audio, mimeType),
	}, genai.RoleUser)}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini stt: generate: %w", err)
	}
	return &stt.Transcript{Text: strings.TrimSpace(resp.Text()), Language: req.Language}, nil
}
