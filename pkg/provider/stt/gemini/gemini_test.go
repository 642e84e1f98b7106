package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	llmgemini "github.com/MrWong99/studysync/pkg/provider/llm/gemini"
	"github.com/MrWong99/studysync/pkg/provider/stt"
)

func TestTranscribe(t *testing.T) {
	t.Parallel()
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"  Today we cover enzymes.\n"}]},"finishReason":"STOP"}]}`)
	}))
	t.Cleanup(srv.Close)

	client, err := llmgemini.NewClient(context.Background(), "test-key", llmgemini.WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	p := New(client, "")

	got, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte("RIFF"), MIMEType: "audio/wav", Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "Today we cover enzymes." {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Language != "en" {
		t.Errorf("Language = %q", got.Language)
	}

	parts := body["contents"].([]any)[0].(map[string]any)["parts"].([]any)
	if len(parts) != 2 {
		t.Fatalf("parts = %v", parts)
	}
	if text := parts[0].(map[string]any)["text"].(string); !strings.Contains(text, "language en") {
		t.Errorf("prompt = %q", text)
	}
	inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
	if inline["mimeType"] != "audio/wav" {
		t.Errorf("mimeType = %v", inline["mimeType"])
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	p := New(nil, "")
	if _, err := p.Transcribe(context.Background(), stt.Request{}); err == nil {
		t.Fatal("expected error for empty audio")
	}
}
