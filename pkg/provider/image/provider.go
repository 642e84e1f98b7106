// Package image defines the Provider interface for image generation
// backends.
package image

import "context"

// Request describes the image to generate.
type Request struct {
	// Prompt is the text description.
	Prompt string

	// AspectRatio such as "1:1" or "16:9". Empty uses the provider default.
	AspectRatio string
}

// Image is one generated picture.
type Image struct {
	// MIMEType of Data, e.g. "image/png".
	MIMEType string

	// Data holds the encoded image bytes.
	Data []byte
}

// Provider is the abstraction over any image generation backend.
type Provider interface {
	// Generate renders one image for req.
	Generate(ctx context.Context, req Request) (*Image, error)
}
