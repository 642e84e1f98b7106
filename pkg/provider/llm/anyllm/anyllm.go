// Package anyllm serves the study text features through
// github.com/mozilla-ai/any-llm-go, which puts Anthropic, Ollama, DeepSeek,
// Mistral, Groq, llama.cpp and llamafile (as well as OpenAI and Gemini)
// behind one completion API.
//
// Requests are text only. A message carrying attachments fails with
// [llm.ErrNoAttachments]; the native gemini and openai packages handle
// lecture slides and photographed notes.
//
//	p, err := anyllm.New("ollama", "llama3.2")
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/studysync/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

func adapt[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return fn(opts...)
	}
}

// backends maps the lower-case backend name to its any-llm-go constructor.
var backends = map[string]constructor{
	"anthropic": adapt(anthropic.New),
	"deepseek":  adapt(deepseek.New),
	"gemini":    adapt(gemini.New),
	"groq":      adapt(groq.New),
	"llamacpp":  adapt(llamacpp.New),
	"llamafile": adapt(llamafile.New),
	"mistral":   adapt(mistral.New),
	"ollama":    adapt(ollama.New),
	"openai":    adapt(anyllmoai.New),
}

// Backends returns the supported backend names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Provider is an [llm.Provider] backed by one any-llm-go backend.
type Provider struct {
	client anyllmlib.Provider
	model  string
	caps   llm.ModelCapabilities
}

// New creates a Provider for model on the named backend. opts are passed to
// the backend unchanged; without anyllmlib.WithAPIKey the backend reads its
// usual environment variable.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backend == "" {
		return nil, errors.New("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	ctor, ok := backends[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q (supported: %s)", backend, strings.Join(Backends(), ", "))
	}
	client, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s client: %w", backend, err)
	}
	return &Provider{client: client, model: model, caps: modelCapabilities(model)}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: response has no choices")
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return out, nil
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	chunks, errs := p.client.CompletionStream(ctx, params)

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)
		send := func(c llm.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]
			if !send(llm.Chunk{Text: c.Delta.Content, FinishReason: c.FinishReason}) {
				return
			}
		}
		// A backend error after the last delta becomes an "error" chunk.
		if err := <-errs; err != nil {
			send(llm.Chunk{FinishReason: "error", Text: err.Error()})
		}
	}()
	return out, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return p.caps
}

func (p *Provider) buildParams(req llm.CompletionRequest) (anyllmlib.CompletionParams, error) {
	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: make([]anyllmlib.Message, 0, len(req.Messages)+1),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for i, m := range req.Messages {
		if len(m.Attachments) > 0 {
			return anyllmlib.CompletionParams{}, fmt.Errorf("anyllm: message %d: %w", i, llm.ErrNoAttachments)
		}
		params.Messages = append(params.Messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}
	if t := req.Temperature; t != 0 {
		params.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		params.MaxTokens = &n
	}
	return params, nil
}

// familyLimits lists context window and output limits by model name prefix.
// The first matching prefix wins.
var familyLimits = []struct {
	prefixes          []string
	window, maxOutput int
}{
	{[]string{"gpt-4o"}, 128_000, 16_384},
	{[]string{"o1", "o3", "o4"}, 200_000, 100_000},
	{[]string{"claude"}, 200_000, 8_192},
	{[]string{"gemini"}, 1_048_576, 8_192},
	{[]string{"deepseek-reasoner"}, 64_000, 8_192},
}

// modelCapabilities never advertises attachments.
func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{SupportsStreaming: true, ContextWindow: 128_000, MaxOutputTokens: 4_096}
	lower := strings.ToLower(model)
	for _, f := range familyLimits {
		if slices.ContainsFunc(f.prefixes, func(p string) bool { return strings.HasPrefix(lower, p) }) {
			caps.ContextWindow, caps.MaxOutputTokens = f.window, f.maxOutput
			break
		}
	}
	return caps
}
