// Package openai provides a text provider backed by the OpenAI Chat
// Completions API. Image attachments are sent as data URLs.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/studysync/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the SDK retries failed requests. Negative
// values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI text Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}
	return &Provider{client: oai.NewClient(cfg.requestOptions(apiKey)...), model: model}, nil
}

// requestOptions translates cfg into SDK request options.
func (c *config) requestOptions(apiKey string) []option.RequestOption {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	if c.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(c.organization))
	}
	if c.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: c.timeout}))
	}
	if c.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(c.maxRetries))
	}
	return reqOpts
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	u := resp.Usage
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage:   llm.Usage{PromptTokens: int(u.PromptTokens), CompletionTokens: int(u.CompletionTokens), TotalTokens: int(u.TotalTokens)},
	}, nil
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: open stream: %w", err)
	}

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)
		defer stream.Close()
		emit := func(c llm.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for stream.Next() {
			choices := stream.Current().Choices
			if len(choices) == 0 {
				continue
			}
			if !emit(llm.Chunk{Text: choices[0].Delta.Content, FinishReason: choices[0].FinishReason}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			emit(llm.Chunk{FinishReason: "error", Text: err.Error()})
		}
	}()
	return out, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// chatModels lists per-family limits, matched by name prefix in order.
var chatModels = []struct {
	prefix    string
	window    int
	maxOutput int
	vision    bool
}{
	{"gpt-4o", 128_000, 16_384, true},
	{"gpt-4.1", 128_000, 16_384, true},
	{"gpt-4-turbo", 128_000, 4_096, true},
	{"gpt-3.5-turbo", 16_385, 4_096, false},
}

func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	caps := llm.ModelCapabilities{SupportsStreaming: true, ContextWindow: 128_000, MaxOutputTokens: 4_096}
	if isReasoningModel(lower) {
		caps.ContextWindow, caps.MaxOutputTokens = 200_000, 100_000
		caps.SupportsReasoning = true
		// o1-mini and o3-mini are text only; o4-mini reads images.
		caps.SupportsVision = strings.HasPrefix(lower, "o4") || !strings.HasSuffix(lower, "-mini")
		return caps
	}
	for _, m := range chatModels {
		if strings.HasPrefix(lower, m.prefix) {
			caps.ContextWindow, caps.MaxOutputTokens, caps.SupportsVision = m.window, m.maxOutput, m.vision
			break
		}
	}
	return caps
}

// isReasoningModel reports whether lower names an o-series model.
func isReasoningModel(lower string) bool {
	return len(lower) >= 2 && lower[0] == 'o' && strings.ContainsRune("134", rune(lower[1]))
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: %w", err)
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Reasoning && isReasoningModel(strings.ToLower(p.model)) {
		params.ReasoningEffort = shared.ReasoningEffortHigh
	}
	return params, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case llm.RoleUser:
		if len(m.Attachments) == 0 {
			return oai.UserMessage(m.Content), nil
		}
		parts := []oai.ChatCompletionContentPartUnionParam{oai.TextContentPart(m.Content)}
		for _, a := range m.Attachments {
			if !a.IsImage() {
				return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("%s: %w", a.MIMEType, llm.ErrNoAttachments)
			}
			parts = append(parts, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL(a),
			}))
		}
		return oai.UserMessage(parts), nil

	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
	}
}

func dataURL(a llm.Attachment) string {
	return "data:" + a.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}
