// Package gemini provides a text provider backed by the Gemini API through
// google.golang.org/genai. Attachments of any media type are sent inline, so
// the provider handles photos, scanned pages and PDFs alike.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/studysync/pkg/provider/llm"
)

// DefaultModel is used when New receives an empty model.
const DefaultModel = "gemini-2.5-flash"

// reasoningBudget is the thinking token budget used for Reasoning requests.
const reasoningBudget = 8192

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider on the Gemini generateContent API.
type Provider struct {
	client *genai.Client
	model  string
}

type config struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*config)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// NewClient creates a genai client for the Gemini API. It is exported so
// that the speech, transcription and image providers can share one client.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return client, nil
}

// New creates a text provider.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	client, err := NewClient(ctx, apiKey, opts...)
	if err != nil {
		return nil, err
	}
	return NewFromClient(client, model), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *genai.Client, model string) *Provider {
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	contents, cfg, err := p.convert(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: empty candidates in response")
	}

	out := &llm.CompletionResponse{Content: resp.Text()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	contents, cfg, err := p.convert(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
			var out llm.Chunk
			if err != nil {
				out = llm.Chunk{FinishReason: "error", Text: err.Error()}
			} else {
				out.Text = resp.Text()
				if len(resp.Candidates) > 0 {
					out.FinishReason = finishReason(resp.Candidates[0].FinishReason)
				}
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		ContextWindow:     1_048_576,
		MaxOutputTokens:   8_192,
		SupportsVision:    true,
		SupportsDocuments: true,
		SupportsStreaming: true,
	}
	if strings.Contains(p.model, "2.5") {
		caps.MaxOutputTokens = 65_536
		caps.SupportsReasoning = true
	}
	return caps
}

func finishReason(r genai.FinishReason) string {
	switch r {
	case "", genai.FinishReasonUnspecified:
		return ""
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return strings.ToLower(string(r))
	}
}

func (p *Provider) convert(req llm.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Reasoning && p.Capabilities().SupportsReasoning {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(reasoningBudget))}
	}

	var contents []*genai.Content
	for _, m := range req.Messages {
		var role genai.Role
		switch m.Role {
		case llm.RoleUser:
			role = genai.RoleUser
		case llm.RoleAssistant:
			role = genai.RoleModel
		case llm.RoleSystem:
			// Gemini has no system turn; fold it into the instruction.
			if cfg.SystemInstruction == nil {
				cfg.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
			} else {
				cfg.SystemInstruction.Parts = append(cfg.SystemInstruction.Parts, genai.NewPartFromText(m.Content))
			}
			continue
		default:
			return nil, nil, fmt.Errorf("gemini: unknown message role %q", m.Role)
		}

		var parts []*genai.Part
		if m.Content != "" {
			parts = append(parts, genai.NewPartFromText(m.Content))
		}
		for _, a := range m.Attachments {
			parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("gemini: request has no messages")
	}
	return contents, cfg, nil
}
