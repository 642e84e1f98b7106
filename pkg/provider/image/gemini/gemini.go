// Package gemini provides an image provider backed by the Imagen models of
// the Gemini API.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/MrWong99/studysync/pkg/provider/image"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "imagen-4.0-generate-001"

	defaultMIMEType = "image/png"
)

// Compile-time interface assertion.
var _ image.Provider = (*Provider)(nil)

// Provider implements image.Provider.
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

// Generate implements image.Provider.
func (p *Provider) Generate(ctx context.Context, req image.Request) (*image.Image, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("gemini image: prompt must not be empty")
	}
	cfg := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: defaultMIMEType,
		AspectRatio:    req.AspectRatio,
	}
	resp, err := p.client.Models.GenerateImages(ctx, p.model, req.Prompt, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini image: generate: %w", err)
	}
	for _, gi := range resp.GeneratedImages {
		if gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			continue
		}
		mimeType := gi.Image.MIMEType
		if mimeType == "" {
			mimeType = defaultMIMEType
		}
		return &image.Image{MIMEType: mimeType, Data: gi.Image.ImageBytes}, nil
	}
	return nil, fmt.Errorf("gemini image: response contained no image")
}
