// Package mock provides a test double for the image.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/studysync/pkg/provider/image"
)

// Provider is a mock implementation of image.Provider.
type Provider struct {
	mu sync.Mutex

	// Image is returned by Generate.
	Image *image.Image

	// GenerateErr, if non-nil, is returned by Generate.
	GenerateErr error

	// Requests records every request in order.
	Requests []image.Request
}

// Ensure Provider implements image.Provider at compile time.
var _ image.Provider = (*Provider)(nil)

// Generate records the request and returns Image or GenerateErr.
func (p *Provider) Generate(_ context.Context, req image.Request) (*image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.GenerateErr != nil {
		return nil, p.GenerateErr
	}
	return p.Image, nil
}
