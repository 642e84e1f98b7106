package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/studysync/pkg/provider/image"
	llmgemini "github.com/MrWong99/studysync/pkg/provider/llm/gemini"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := llmgemini.NewClient(context.Background(), "test-key", llmgemini.WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	return New(client, "")
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	png := []byte("\x89PNG fake")
	var body map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, DefaultModel+":predict") {
			t.Errorf("path = %q", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"predictions":[{"bytesBase64Encoded":%q,"mimeType":"image/png"}]}`, base64.StdEncoding.EncodeToString(png))
	})

	img, err := p.Generate(context.Background(), image.Request{Prompt: "A labelled diagram of the water cycle", AspectRatio: "16:9"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img.MIMEType != "image/png" || string(img.Data) != string(png) {
		t.Errorf("image = %s %q", img.MIMEType, img.Data)
	}

	instances := body["instances"].([]any)
	if prompt := instances[0].(map[string]any)["prompt"]; prompt != "A labelled diagram of the water cycle" {
		t.Errorf("prompt = %v", prompt)
	}
	params := body["parameters"].(map[string]any)
	if params["aspectRatio"] != "16:9" || params["sampleCount"] != float64(1) {
		t.Errorf("parameters = %v", params)
	}
}

func TestGenerate_NoImage(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"predictions":[]}`)
	})
	if _, err := p.Generate(context.Background(), image.Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error for empty predictions")
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	if _, err := New(nil, "").Generate(context.Background(), image.Request{}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}
