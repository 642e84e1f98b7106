package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/studysync/pkg/provider/llm"
)

type recorded struct {
	path string
	raw  string
	body map[string]any
}

func geminiServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		rec.path = r.URL.Path
		rec.raw = string(raw)
		rec.body = nil
		_ = json.Unmarshal(raw, &rec.body)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newTestProvider(t *testing.T, srv *httptest.Server, model string) *Provider {
	t.Helper()
	p, err := New(context.Background(), "test-key", model, WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func candidateJSON(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]},"finishReason":"STOP","index":0}],
"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":3,"totalTokenCount":10}}`, text)
}

func TestComplete(t *testing.T) {
	t.Parallel()
	srv, rec := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, candidateJSON("Mitochondria make ATP."))
	})
	p := newTestProvider(t, srv, "")

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are a biology tutor.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "What do mitochondria do?"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Mitochondria make ATP." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if !strings.HasSuffix(rec.path, "models/"+DefaultModel+":generateContent") {
		t.Errorf("path = %q", rec.path)
	}
	if !strings.Contains(rec.raw, "You are a biology tutor.") {
		t.Error("system instruction missing from request")
	}
}

func TestComplete_InlineAttachment(t *testing.T) {
	t.Parallel()
	srv, rec := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, candidateJSON("A worksheet."))
	})
	p := newTestProvider(t, srv, "gemini-2.5-flash")

	_, err := p.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{{
		Role:        llm.RoleUser,
		Content:     "Describe",
		Attachments: []llm.Attachment{{MIMEType: "application/pdf", Data: []byte("%PDF")}},
	}}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	contents := rec.body["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	if len(parts) != 2 {
		t.Fatalf("parts = %v", parts)
	}
	inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
	if inline["mimeType"] != "application/pdf" || inline["data"] != "JVBERg==" {
		t.Errorf("inlineData = %v", inline)
	}
}

func TestComplete_ReasoningBudget(t *testing.T) {
	t.Parallel()
	srv, rec := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, candidateJSON("QED"))
	})

	p := newTestProvider(t, srv, "gemini-2.5-pro")
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "Prove sqrt(2) is irrational."}},
		Reasoning: true,
	}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.raw, `"thinkingBudget":8192`) {
		t.Errorf("thinking budget missing: %s", rec.raw)
	}

	p = newTestProvider(t, srv, "gemini-2.0-flash")
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "Prove it."}},
		Reasoning: true,
	}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(rec.raw, "thinkingBudget") {
		t.Error("thinking budget sent to a model without thinking mode")
	}
}

func TestComplete_HTTPError(t *testing.T) {
	t.Parallel()
	srv, _ := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	})
	p := newTestProvider(t, srv, "")

	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "gemini: generate content") {
		t.Fatalf("got %v", err)
	}
}

func TestStreamCompletion(t *testing.T) {
	t.Parallel()
	srv, rec := geminiServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Newton's ", "first law"} {
			fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]},\"index\":0}]}\n\n", piece)
		}
	})
	p := newTestProvider(t, srv, "")

	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Name a law of motion"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	text, err := llm.Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text != "Newton's first law" {
		t.Errorf("text = %q", text)
	}
	if !strings.Contains(rec.path, ":streamGenerateContent") {
		t.Errorf("path = %q", rec.path)
	}
}

func TestConvert(t *testing.T) {
	p := &Provider{model: DefaultModel}

	contents, cfg, err := p.convert(llm.CompletionRequest{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "Answer in French."},
		{Role: llm.RoleUser, Content: "Hello"},
		{Role: llm.RoleAssistant, Content: "Bonjour"},
	}})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(contents) != 2 {
		t.Fatalf("contents = %d, want 2", len(contents))
	}
	if contents[1].Role != "model" {
		t.Errorf("assistant role = %q, want model", contents[1].Role)
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "Answer in French." {
		t.Errorf("system instruction = %+v", cfg.SystemInstruction)
	}

	if _, _, err := p.convert(llm.CompletionRequest{}); err == nil {
		t.Error("expected error for empty request")
	}
	if _, _, err := p.convert(llm.CompletionRequest{Messages: []llm.Message{{Role: "tool"}}}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}
