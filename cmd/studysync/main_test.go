package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/studysync/internal/app"
	"github.com/MrWong99/studysync/internal/config"
	"github.com/MrWong99/studysync/internal/conversation"
	"github.com/MrWong99/studysync/internal/observe"
	"github.com/MrWong99/studysync/internal/resilience"
	audiomock "github.com/MrWong99/studysync/pkg/audio/mock"
	"github.com/MrWong99/studysync/pkg/provider/image"
	imagemock "github.com/MrWong99/studysync/pkg/provider/image/mock"
	"github.com/MrWong99/studysync/pkg/provider/live"
	livemock "github.com/MrWong99/studysync/pkg/provider/live/mock"
	"github.com/MrWong99/studysync/pkg/provider/llm"
	llmmock "github.com/MrWong99/studysync/pkg/provider/llm/mock"
	"github.com/MrWong99/studysync/pkg/provider/stt"
	sttmock "github.com/MrWong99/studysync/pkg/provider/stt/mock"
	"github.com/MrWong99/studysync/pkg/provider/tts"
	ttsmock "github.com/MrWong99/studysync/pkg/provider/tts/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newTestEnv(t *testing.T, ps *app.Providers, stdin string) (*env, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	a, err := app.New(cfg, ps, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	return &env{app: a, stdin: strings.NewReader(stdin), stdout: out}, out
}

func TestBuildProviders_Fallbacks(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterLLM("primary", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{CompleteErr: errors.New("primary down")}, nil
	})
	reg.RegisterLLM("backup", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from backup"}}, nil
	})

	cfg := &config.Config{Providers: config.ProvidersConfig{
		LLM: config.ProviderEntry{
			Name: "primary",
			Fallbacks: []config.ProviderEntry{
				{Name: "missing"},
				{Name: "backup", Model: "small"},
			},
		},
		TTS: config.ProviderEntry{Name: "unregistered"},
	}}

	ps, err := buildProviders(cfg, reg, testMetrics(t))
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.TTS != nil || ps.Live != nil || ps.STT != nil || ps.Image != nil {
		t.Errorf("unexpected providers: %+v", ps)
	}

	chain, ok := ps.LLM.(*resilience.LLM)
	if !ok {
		t.Fatalf("LLM is %T, want *resilience.LLM", ps.LLM)
	}
	if got := chain.Names(); !slices.Equal(got, []string{"primary", "backup/small"}) {
		t.Errorf("backends = %v", got)
	}

	resp, err := ps.LLM.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestBuildProviders_FactoryError(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) {
		return nil, errors.New("no key")
	})
	cfg := &config.Config{Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "broken"}}}

	_, err := buildProviders(cfg, reg, testMetrics(t))
	if err == nil || !strings.Contains(err.Error(), `create stt provider "broken"`) {
		t.Fatalf("got %v", err)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	for kind, want := range config.ValidProviderNames {
		got := reg.Names(kind)
		for _, name := range want {
			if !slices.Contains(got, name) {
				t.Errorf("%s/%s not registered (have %v)", kind, name, got)
			}
		}
	}
}

func TestBackendLabel(t *testing.T) {
	t.Parallel()
	if got := backendLabel(config.ProviderEntry{Name: "openai"}); got != "openai" {
		t.Errorf("got %q", got)
	}
	if got := backendLabel(config.ProviderEntry{Name: "openai", Model: "gpt-4o"}); got != "openai/gpt-4o" {
		t.Errorf("got %q", got)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"organization": "org-1", "keepalive": "20s", "bad": 5}
	if optString(opts, "organization") != "org-1" || optString(opts, "bad") != "" || optString(nil, "x") != "" {
		t.Error("optString mismatch")
	}
	if optDuration(opts, "keepalive").Seconds() != 20 || optDuration(opts, "organization") != 0 {
		t.Error("optDuration mismatch")
	}
}

func TestLookupCommand(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"live", "assist", "chat", "speak", "image", "transcribe", "serve"} {
		if _, ok := lookupCommand(name); !ok {
			t.Errorf("command %q missing", name)
		}
	}
	if _, ok := lookupCommand("dance"); ok {
		t.Error("unknown command found")
	}
}

func TestRunAssist(t *testing.T) {
	t.Parallel()

	text := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  1. Light reactions\n"}}
	e, out := newTestEnv(t, &app.Providers{LLM: text}, "")

	err := runAssist(context.Background(), e, []string{"-feature", "study-guide", "-lang", "fr", "-text", "photosynthesis"})
	if err != nil {
		t.Fatalf("runAssist: %v", err)
	}
	if got := out.String(); got != "1. Light reactions\n" {
		t.Errorf("output = %q", got)
	}
	req := text.CompleteCalls[0].Req
	if !strings.Contains(req.Messages[0].Content, "photosynthesis") {
		t.Errorf("prompt = %q", req.Messages[0].Content)
	}
}

func TestRunAssist_InputFromStdin(t *testing.T) {
	t.Parallel()

	text := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "short"}}
	e, _ := newTestEnv(t, &app.Providers{LLM: text}, "a long lecture")

	if err := runAssist(context.Background(), e, []string{"-in", "-"}); err != nil {
		t.Fatalf("runAssist: %v", err)
	}
	if !strings.Contains(text.CompleteCalls[0].Req.Messages[0].Content, "a long lecture") {
		t.Errorf("stdin not used: %+v", text.CompleteCalls[0].Req)
	}
}

func TestRunAssist_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		wantUsage bool
		want      string
	}{
		{name: "unknown flag", args: []string{"-bogus"}, wantUsage: true},
		{name: "unknown feature", args: []string{"-feature", "juggle"}, wantUsage: true},
		{name: "unknown language", args: []string{"-lang", "Klingon"}, wantUsage: true},
		{name: "non-text feature", args: []string{"-feature", "generate-image", "-text", "a cat"}, want: "image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, _ := newTestEnv(t, &app.Providers{LLM: &llmmock.Provider{}}, "")
			err := runAssist(context.Background(), e, tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, errUsage) != tt.wantUsage {
				t.Errorf("usage error = %v, want %v (%v)", errors.Is(err, errUsage), tt.wantUsage, err)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestRunAssist_NoTextProvider(t *testing.T) {
	t.Parallel()
	e, _ := newTestEnv(t, &app.Providers{}, "")
	err := runAssist(context.Background(), e, []string{"-text", "x"})
	if !errors.Is(err, app.ErrNotConfigured) {
		t.Fatalf("got %v, want ErrNotConfigured", err)
	}
}

func TestRunChat(t *testing.T) {
	t.Parallel()

	text := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello, student."}}
	e, out := newTestEnv(t, &app.Providers{LLM: text}, "hi there\n\n/reset\n/quit\nnever sent\n")

	if err := runChat(context.Background(), e, nil); err != nil {
		t.Fatalf("runChat: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Hello, student.") || !strings.Contains(got, "History cleared.") {
		t.Errorf("output = %q", got)
	}
	if n := len(text.CompleteCalls); n != 1 {
		t.Errorf("Complete called %d times, want 1", n)
	}
}

func TestRunChat_ErrorsAreShownAndChatContinues(t *testing.T) {
	t.Parallel()

	text := &llmmock.Provider{CompleteErr: errors.New("quota exceeded")}
	e, out := newTestEnv(t, &app.Providers{LLM: text}, "first\nsecond\n")

	if err := runChat(context.Background(), e, nil); err != nil {
		t.Fatalf("runChat: %v", err)
	}
	if got := strings.Count(out.String(), "An error occurred:"); got != 2 {
		t.Errorf("error lines = %d, output %q", got, out.String())
	}
}

func TestRunSpeak_ToFile(t *testing.T) {
	t.Parallel()

	speech := &ttsmock.Provider{Speech: &tts.Speech{PCM: make([]byte, 480), SampleRate: 24000}}
	e, out := newTestEnv(t, &app.Providers{LLM: &llmmock.Provider{}, TTS: speech}, "")
	path := filepath.Join(t.TempDir(), "speech.pcm")

	if err := runSpeak(context.Background(), e, []string{"-text", "Hallo", "-voice", "Kore", "-out", path}); err != nil {
		t.Fatalf("runSpeak: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 480 {
		t.Errorf("wrote %d bytes, want 480", len(data))
	}
	if speech.SynthesizeCalls[0].Req.Voice != "Kore" {
		t.Errorf("voice = %q", speech.SynthesizeCalls[0].Req.Voice)
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunSpeak_RequiresText(t *testing.T) {
	t.Parallel()
	e, _ := newTestEnv(t, &app.Providers{}, "")
	if err := runSpeak(context.Background(), e, nil); !errors.Is(err, errUsage) {
		t.Fatalf("got %v, want usage error", err)
	}
}

func TestRunImage(t *testing.T) {
	t.Parallel()

	images := &imagemock.Provider{Image: &image.Image{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}}}
	e, _ := newTestEnv(t, &app.Providers{LLM: &llmmock.Provider{}, Image: images}, "")
	path := filepath.Join(t.TempDir(), "cell.jpg")

	if err := runImage(context.Background(), e, []string{"-prompt", "an animal cell", "-out", path}); err != nil {
		t.Fatalf("runImage: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) != 3 {
		t.Fatalf("image file: %v, %d bytes", err, len(data))
	}
	if images.Requests[0].Prompt != "an animal cell" {
		t.Errorf("prompt = %q", images.Requests[0].Prompt)
	}
}

func TestRunTranscribe(t *testing.T) {
	t.Parallel()

	listener := &sttmock.Provider{Result: &stt.Transcript{Text: " The mitochondria is the powerhouse. "}}
	e, out := newTestEnv(t, &app.Providers{LLM: &llmmock.Provider{}, STT: listener}, "")
	path := filepath.Join(t.TempDir(), "lecture.mp3")
	if err := os.WriteFile(path, []byte("ID3fake"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runTranscribe(context.Background(), e, []string{"-in", path, "-lang", "english"}); err != nil {
		t.Fatalf("runTranscribe: %v", err)
	}
	if got := out.String(); got != "The mitochondria is the powerhouse.\n" {
		t.Errorf("output = %q", got)
	}
	req := listener.TranscribeCalls[0].Req
	if req.MIMEType != "audio/mpeg" || req.Language != "en" {
		t.Errorf("request = %+v", req)
	}
}

func TestRunServe_RequiresListenAddr(t *testing.T) {
	t.Parallel()
	e, _ := newTestEnv(t, &app.Providers{}, "")
	if err := runServe(context.Background(), e, nil); !errors.Is(err, errUsage) {
		t.Fatalf("got %v, want usage error", err)
	}
}

func TestTranscriptPrinter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := &transcriptPrinter{w: &out}
	p.update(conversation.Snapshot{Status: conversation.StatusConnected})
	p.update(conversation.Snapshot{Status: conversation.StatusConnected, Entries: []conversation.Entry{
		{Speaker: conversation.SpeakerUser, Text: "What is osmosis?"},
	}})
	p.update(conversation.Snapshot{Status: conversation.StatusConnected, Entries: []conversation.Entry{
		{Speaker: conversation.SpeakerUser, Text: "What is osmosis?"},
		{Speaker: conversation.SpeakerModel, Text: "Water moving through a membrane."},
	}})
	p.update(conversation.Snapshot{Status: conversation.StatusIdle, Entries: []conversation.Entry{
		{Speaker: conversation.SpeakerUser, Text: "What is osmosis?"},
		{Speaker: conversation.SpeakerModel, Text: "Water moving through a membrane."},
	}})

	want := "[connected]\nyou: What is osmosis?\ntutor: Water moving through a membrane.\n[idle]\n"
	if out.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", out.String(), want)
	}
}

func TestTranscriptPrinter_LiveLines(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := &transcriptPrinter{w: &out}
	connected := conversation.StatusConnected
	question := conversation.Entry{Speaker: conversation.SpeakerUser, Text: "Define entropy"}
	answer := conversation.Entry{Speaker: conversation.SpeakerModel, Text: "A measure of disorder."}

	p.update(conversation.Snapshot{Status: connected, UserLine: "Define"})
	p.update(conversation.Snapshot{Status: connected, UserLine: "Define entropy"})
	p.update(conversation.Snapshot{Status: connected, UserLine: "Define entropy"})
	p.update(conversation.Snapshot{Status: connected, Entries: []conversation.Entry{question}, ModelLine: "A measure"})
	p.update(conversation.Snapshot{Status: connected, Entries: []conversation.Entry{question}, ModelLine: "A measure of disorder."})
	p.update(conversation.Snapshot{Status: connected, Entries: []conversation.Entry{question, answer}})
	p.update(conversation.Snapshot{Status: connected, Entries: []conversation.Entry{question, answer}, UserLine: "  "})
	p.update(conversation.Snapshot{Status: connected, Entries: []conversation.Entry{question, answer}, UserLine: "Define"})

	want := "[connected]\n" +
		"you… Define\n" +
		"you… Define entropy\n" +
		"you: Define entropy\n" +
		"tutor… A measure\n" +
		"tutor… A measure of disorder.\n" +
		"tutor: A measure of disorder.\n" +
		"you… Define\n"
	if out.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", out.String(), want)
	}
	if p.userLine != "Define" || p.modelLine != "" {
		t.Errorf("remembered lines = (%q, %q), want (%q, \"\")", p.userLine, p.modelLine, "Define")
	}
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a running
// conversation.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// startLive runs the live command against mock devices and returns once the
// conversation is connected.
func startLive(t *testing.T) (*livemock.Session, *syncBuffer, <-chan error) {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	provider := &livemock.Provider{}
	a, err := app.New(cfg, &app.Providers{Live: provider},
		app.WithDevices(&audiomock.InputDevice{}, &audiomock.OutputDevice{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Shutdown() })

	out := &syncBuffer{}
	e := &env{app: a, stdin: strings.NewReader(""), stdout: out}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errc := make(chan error, 1)
	go func() { errc <- runLive(ctx, e, nil) }()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "Listening.") {
		select {
		case err := <-errc:
			t.Fatalf("runLive returned early: %v; output: %s", err, out.String())
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("conversation did not connect; output: %s", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return provider.LastSession(), out, errc
}

func waitLive(t *testing.T, errc <-chan error, out *syncBuffer) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("runLive still running; output: %s", out.String())
		return nil
	}
}

func TestRunLive_RemoteErrorEndsCommand(t *testing.T) {
	t.Parallel()

	sess, out, errc := startLive(t)
	sess.Push(live.Event{Kind: live.EventUserText, Text: "Quiz me on "})
	sess.Push(live.Event{Kind: live.EventUserText, Text: "enzymes"})
	sess.End(&live.Event{Kind: live.EventError, Err: live.ErrRemote})

	err := waitLive(t, errc, out)
	if !errors.Is(err, live.ErrRemote) {
		t.Fatalf("runLive error = %v, want ErrRemote", err)
	}
	got := out.String()
	for _, want := range []string{"[connected]", "you… Quiz me on enzymes", "[error]"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunLive_RemoteCloseEndsCommand(t *testing.T) {
	t.Parallel()

	sess, out, errc := startLive(t)
	sess.Push(live.Event{Kind: live.EventModelText, Text: "Good luck on the exam."})
	sess.Push(live.Event{Kind: live.EventTurnComplete})
	sess.End(&live.Event{Kind: live.EventClose})

	if err := waitLive(t, errc, out); err != nil {
		t.Fatalf("runLive error = %v, want nil", err)
	}
	got := out.String()
	for _, want := range []string{"tutor: Good luck on the exam.", "[idle]"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if !sess.Closed() {
		t.Error("session not closed")
	}
}

func TestRunLive_SilentHangUpEndsCommand(t *testing.T) {
	t.Parallel()

	sess, out, errc := startLive(t)
	sess.End(nil)

	if err := waitLive(t, errc, out); err != nil {
		t.Fatalf("runLive error = %v, want nil", err)
	}
	if !strings.Contains(out.String(), "[idle]") {
		t.Errorf("output missing [idle]:\n%s", out.String())
	}
}

func TestSessionOver(t *testing.T) {
	t.Parallel()
	for status, want := range map[conversation.Status]bool{
		conversation.StatusIdle:       true,
		conversation.StatusError:      true,
		conversation.StatusConnecting: false,
		conversation.StatusConnected:  false,
	} {
		if got := sessionOver(status); got != want {
			t.Errorf("sessionOver(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestAttachmentType(t *testing.T) {
	t.Parallel()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	tests := []struct {
		path string
		data []byte
		want string
	}{
		{"diagram.png", png, "image/png"},
		{"notes.md", []byte("# Cells"), "text/markdown"},
		{"paper.pdf", []byte("%PDF-1.7"), "application/pdf"},
		{"blob", []byte{0x00, 0x01, 0x02}, "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := attachmentType(tt.path, tt.data); got != tt.want {
			t.Errorf("attachmentType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	if slogLevel(config.LogDebug).String() != "DEBUG" || slogLevel("").String() != "INFO" || slogLevel(config.LogError).String() != "ERROR" {
		t.Error("slogLevel mismatch")
	}
}
