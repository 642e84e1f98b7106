package anyllm

import (
	"errors"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/studysync/pkg/provider/llm"
)

func newTestProvider(t *testing.T, model string) *Provider {
	t.Helper()
	p, err := New("openai", model, anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := newTestProvider(t, "gpt-4o")
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a tutor.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "What is a mitochondrion?"},
			{Role: llm.RoleAssistant, Content: "The powerhouse of the cell."},
		},
		Temperature: 0.3,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.Model != "gpt-4o" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "You are a tutor." {
		t.Errorf("first message = %+v", params.Messages[0])
	}
	if params.Messages[2].Role != llm.RoleAssistant {
		t.Errorf("last role = %q", params.Messages[2].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_DefaultsLeftUnset(t *testing.T) {
	p := newTestProvider(t, "gpt-4o")
	params, err := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("expected unset temperature and max tokens, got %v / %v", params.Temperature, params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Errorf("expected no system message, got %d messages", len(params.Messages))
	}
}

func TestBuildParams_RejectsAttachments(t *testing.T) {
	p := newTestProvider(t, "gpt-4o")
	_, err := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{
		Role:        llm.RoleUser,
		Content:     "Describe this diagram",
		Attachments: []llm.Attachment{{MIMEType: "image/png", Data: []byte{0x89}}},
	}}})
	if !errors.Is(err, llm.ErrNoAttachments) {
		t.Fatalf("got %v, want ErrNoAttachments", err)
	}
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model     string
		window    int
		maxOutput int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"GPT-4O", 128_000, 16_384},
		{"o3-mini", 200_000, 100_000},
		{"claude-3-5-sonnet-latest", 200_000, 8_192},
		{"gemini-2.5-flash", 1_048_576, 8_192},
		{"llama3.2", 128_000, 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.window {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.window)
			}
			if caps.MaxOutputTokens != tt.maxOutput {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tt.maxOutput)
			}
			if caps.SupportsVision || caps.SupportsDocuments {
				t.Error("text-only backend must not advertise attachments")
			}
			if !caps.SupportsStreaming {
				t.Error("expected SupportsStreaming")
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_Ollama_NoAPIKey(t *testing.T) {
	p, err := New("ollama", "llama3.2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Capabilities().ContextWindow <= 0 {
		t.Error("expected positive context window")
	}
}

func TestBackends_CoverRegisteredCLINames(t *testing.T) {
	got := Backends()
	want := []string{"anthropic", "deepseek", "gemini", "groq", "llamacpp", "llamafile", "mistral", "ollama", "openai"}
	if len(got) != len(want) {
		t.Fatalf("Backends() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Backends()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNew_BackendNameCaseInsensitive(t *testing.T) {
	if _, err := New("Ollama", "llama3.2"); err != nil {
		t.Fatalf("New(Ollama): %v", err)
	}
}
