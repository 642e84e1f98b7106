package assist

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/studysync/pkg/provider/llm"
	llmmock "github.com/MrWong99/studysync/pkg/provider/llm/mock"
)

func TestChat_KeepsHistory(t *testing.T) {
	t.Parallel()
	p := answering("A noble gas.")
	svc := newTestService(t, p, WithLanguage(Japanese))
	chat := svc.NewChat(ChatConfig{})

	if _, err := chat.Send(context.Background(), "What is neon?"); err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if _, err := chat.Send(context.Background(), "And argon?"); err != nil {
		t.Fatalf("Send 2: %v", err)
	}

	req, _ := p.LastRequest()
	if len(req.Messages) != 3 {
		t.Fatalf("second request carries %d messages, want 3", len(req.Messages))
	}
	if req.Messages[0].Content != "What is neon?" || req.Messages[1].Role != llm.RoleAssistant || req.Messages[2].Content != "And argon?" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if !strings.Contains(req.SystemPrompt, "Respond in Japanese.") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if got := len(chat.History()); got != 4 {
		t.Errorf("history length = %d, want 4", got)
	}
}

func TestChat_FailedTurnLeavesHistory(t *testing.T) {
	t.Parallel()
	p := answering("Yes.")
	svc := newTestService(t, p)
	chat := svc.NewChat(ChatConfig{})

	if _, err := chat.Send(context.Background(), "Is water polar?"); err != nil {
		t.Fatal(err)
	}
	p.CompleteErr = errors.New("overloaded")
	p.CompleteResponse = nil
	if _, err := chat.Send(context.Background(), "Why?"); err == nil {
		t.Fatal("expected error")
	}
	if got := len(chat.History()); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	t.Parallel()
	chat := newTestService(t, answering("x")).NewChat(ChatConfig{})
	if _, err := chat.Send(context.Background(), " "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("got %v", err)
	}
}

func TestChat_CompactsOldTurns(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		CompleteFunc: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if req.SystemPrompt == summarisationPrompt {
				return &llm.CompletionResponse{Content: "Covered atoms."}, nil
			}
			return &llm.CompletionResponse{Content: strings.Repeat("a", 40)}, nil
		},
	}
	svc := newTestService(t, p)
	chat := svc.NewChat(ChatConfig{ContextTokens: 40, CompactRatio: 0.5})

	for _, q := range []string{"What is an atom?", "What is a proton?"} {
		if _, err := chat.Send(context.Background(), q); err != nil {
			t.Fatalf("Send %q: %v", q, err)
		}
	}

	hist := chat.History()
	if len(hist) != 3 {
		t.Fatalf("history = %+v, want summary plus one turn", hist)
	}
	if hist[0].Role != llm.RoleSystem || !strings.Contains(hist[0].Content, "Covered atoms.") {
		t.Errorf("summary message = %+v", hist[0])
	}
	if hist[1].Content != "What is a proton?" {
		t.Errorf("kept turn = %+v", hist[1])
	}

	var summarised bool
	for _, c := range p.CompleteCalls {
		if c.Req.SystemPrompt == summarisationPrompt {
			summarised = true
			if !strings.Contains(c.Req.Messages[0].Content, "[user]: What is an atom?") {
				t.Errorf("summary input = %q", c.Req.Messages[0].Content)
			}
		}
	}
	if !summarised {
		t.Error("summariser never called")
	}
}

func TestChat_Reset(t *testing.T) {
	t.Parallel()
	chat := newTestService(t, answering("ok")).NewChat(ChatConfig{})
	if _, err := chat.Send(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if chat.TokenEstimate() == 0 {
		t.Error("token estimate not tracked")
	}
	chat.Reset()
	if len(chat.History()) != 0 || chat.TokenEstimate() != 0 {
		t.Error("Reset left state behind")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		role, content string
		want          int
	}{
		{"", "", 0},
		{"", "a", 1},
		{"user", "abcd", 2},
		{"assistant", strings.Repeat("x", 39), 12},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.role, tt.content); got != tt.want {
			t.Errorf("estimateTokens(%q, %d chars) = %d, want %d", tt.role, len(tt.content), got, tt.want)
		}
	}
}
