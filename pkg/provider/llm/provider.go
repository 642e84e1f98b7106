// Package llm defines the Provider interface for text generation backends.
//
// An LLM provider wraps a remote model API (Gemini, OpenAI, or any backend
// reachable through any-llm-go) and exposes a uniform interface so that the
// assist service can run its study features without coupling to a specific
// SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
)

// ErrNoAttachments is returned by providers that cannot process attachments
// of the requested media type.
var ErrNoAttachments = errors.New("llm: attachments not supported")

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history.
	SystemPrompt string

	// Temperature controls output randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the
	// provider default.
	MaxTokens int

	// Reasoning asks for extended thinking before answering. Providers
	// without a thinking mode ignore it.
	Reasoning bool
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length" or "error".
	// For "error" Text holds the error message.
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any text generation backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel that
	// emits Chunk values as they arrive. The channel is closed when
	// generation finishes or ctx is cancelled. Errors after the stream
	// opened arrive as a Chunk with FinishReason "error".
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}

// Collect drains a completion stream into a single string. A chunk with
// FinishReason "error" ends collection with that error.
func Collect(ctx context.Context, ch <-chan Chunk) (string, error) {
	var out []byte
	for {
		select {
		case <-ctx.Done():
			return string(out), ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return string(out), nil
			}
			if c.FinishReason == "error" {
				return string(out), errors.New(c.Text)
			}
			out = append(out, c.Text...)
		}
	}
}
