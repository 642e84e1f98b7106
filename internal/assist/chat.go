package assist

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/studysync/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation. English
// text averages roughly four characters per token.
const charsPerToken = 4

// ChatConfig configures a [Chat].
type ChatConfig struct {
	// Language of the tutor's answers. Empty uses the service default.
	Language Language

	// ContextTokens is the history budget. When the estimated size of the
	// history passes ContextTokens*CompactRatio, the oldest half of the
	// turns is replaced by a summary. Default: the model's context window,
	// or 32768 if the model does not report one.
	ContextTokens int

	// CompactRatio defaults to 0.75.
	CompactRatio float64
}

// Chat is a multi-turn tutor conversation. It is safe for concurrent use;
// concurrent Send calls are answered one after the other.
type Chat struct {
	svc    *Service
	lang   Language
	budget int
	ratio  float64

	turn sync.Mutex // serializes Send

	mu        sync.Mutex
	messages  []llm.Message
	summaries []string
	tokens    int
}

// NewChat starts an empty conversation on the service's text provider.
func (s *Service) NewChat(cfg ChatConfig) *Chat {
	if cfg.Language == "" {
		cfg.Language = s.language
	}
	if cfg.ContextTokens <= 0 && s.text != nil {
		cfg.ContextTokens = s.text.Capabilities().ContextWindow
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = 32768
	}
	if cfg.CompactRatio <= 0 || cfg.CompactRatio > 1 {
		cfg.CompactRatio = 0.75
	}
	return &Chat{svc: s, lang: cfg.Language, budget: cfg.ContextTokens, ratio: cfg.CompactRatio}
}

// Send adds the student's message, asks the tutor and returns the answer.
// On error the history is left as it was before the call.
func (c *Chat) Send(ctx context.Context, text string) (answer string, err error) {
	ctx, done := c.svc.track(ctx, ChatBot)
	defer func() { done(err) }()

	if c.svc.text == nil {
		return "", fmt.Errorf("%w: llm", ErrNoProvider)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}

	c.turn.Lock()
	defer c.turn.Unlock()

	user := llm.Message{Role: llm.RoleUser, Content: text}
	resp, err := c.svc.text.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: chatSystemPrompt(c.lang),
		Messages:     append(c.History(), user),
	})
	if err != nil {
		return "", fmt.Errorf("assist: chat: %w", err)
	}
	answer = strings.TrimSpace(resp.Content)

	c.mu.Lock()
	c.append(user, llm.Message{Role: llm.RoleAssistant, Content: answer})
	over := c.tokens > int(float64(c.budget)*c.ratio) && len(c.messages) > 2
	c.mu.Unlock()

	if over {
		if err := c.compact(ctx); err != nil {
			// The answer stands; the history is just larger than wanted.
			c.svc.log.Warn("chat history compaction failed", "error", err)
		}
	}
	return answer, nil
}

// History returns the conversation as sent to the model: summaries of
// compacted turns first, then the remaining turns in order.
func (c *Chat) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]llm.Message, 0, len(c.summaries)+len(c.messages))
	for _, s := range c.summaries {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: "[Earlier in this conversation]: " + s})
	}
	return append(out, c.messages...)
}

// TokenEstimate returns the estimated size of the history in tokens.
func (c *Chat) TokenEstimate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// Reset clears the conversation.
func (c *Chat) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.summaries = nil
	c.tokens = 0
}

// append must be called with c.mu held.
func (c *Chat) append(msgs ...llm.Message) {
	for _, m := range msgs {
		c.messages = append(c.messages, m)
		c.tokens += estimateTokens(m.Role, m.Content)
	}
}

// compact replaces the oldest half of the turns with a model-written
// summary. It runs with c.turn held, so the turn list only changes here.
func (c *Chat) compact(ctx context.Context) error {
	c.mu.Lock()
	half := len(c.messages) / 2
	if half%2 == 1 {
		// Keep user/assistant pairs together.
		half++
	}
	old := make([]llm.Message, half)
	copy(old, c.messages[:half])
	c.mu.Unlock()

	var sb strings.Builder
	for _, m := range old {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}
	resp, err := c.svc.text.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Temperature:  0.3,
	})
	if err != nil {
		return fmt.Errorf("assist: summarise chat: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) < half {
		// Reset ran while the summary was produced.
		return nil
	}
	for _, m := range c.messages[:half] {
		c.tokens -= estimateTokens(m.Role, m.Content)
	}
	c.messages = append([]llm.Message(nil), c.messages[half:]...)
	c.summaries = append(c.summaries, summary)
	c.tokens += estimateTokens("", summary)
	return nil
}

// estimateTokens returns a rough token count using the four characters per
// token heuristic. Non-empty text counts at least one token.
func estimateTokens(role, content string) int {
	chars := len(role) + len(content)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
