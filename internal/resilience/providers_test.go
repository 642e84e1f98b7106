package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/studysync/pkg/provider/image"
	imagemock "github.com/MrWong99/studysync/pkg/provider/image/mock"
	"github.com/MrWong99/studysync/pkg/provider/llm"
	llmmock "github.com/MrWong99/studysync/pkg/provider/llm/mock"
	"github.com/MrWong99/studysync/pkg/provider/stt"
	sttmock "github.com/MrWong99/studysync/pkg/provider/stt/mock"
	"github.com/MrWong99/studysync/pkg/provider/tts"
	ttsmock "github.com/MrWong99/studysync/pkg/provider/tts/mock"
)

func TestLLM_Complete(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("quota exceeded")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Osmosis moves water."}}

	f := NewLLM("gemini", primary, GroupConfig{})
	f.Add("openai", secondary)

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "Explain osmosis"}}}
	resp, err := f.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Osmosis moves water." {
		t.Errorf("Content = %q", resp.Content)
	}
	got, ok := secondary.LastRequest()
	if !ok || got.Messages[0].Content != "Explain osmosis" {
		t.Errorf("secondary request = %+v", got)
	}
}

func TestLLM_StreamCompletion(t *testing.T) {
	primary := &llmmock.Provider{StreamErr: errors.New("unavailable")}
	secondary := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "a"}, {Text: "b", FinishReason: "stop"}}}

	f := NewLLM("primary", primary, GroupConfig{})
	f.Add("secondary", secondary)

	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	text, err := llm.Collect(context.Background(), ch)
	if err != nil || text != "ab" {
		t.Fatalf("Collect = %q, %v", text, err)
	}
}

func TestLLM_CapabilitiesFromPrimary(t *testing.T) {
	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{SupportsVision: true}}
	f := NewLLM("primary", primary, GroupConfig{})
	f.Add("secondary", &llmmock.Provider{})

	if !f.Capabilities().SupportsVision {
		t.Error("capabilities not taken from primary")
	}
}

func TestSpeech_ClearsForeignVoice(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("down"), VoiceList: []string{"Kore", "Puck"}}
	secondary := &ttsmock.Provider{
		Speech:    &tts.Speech{PCM: []byte{0, 0}, SampleRate: 24000},
		VoiceList: []string{"alloy"},
	}

	f := NewSpeech("gemini", primary, GroupConfig{})
	f.Add("openai", secondary)

	if _, err := f.Synthesize(context.Background(), tts.Request{Text: "hello", Voice: "Kore"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if v := primary.SynthesizeCalls[0].Req.Voice; v != "Kore" {
		t.Errorf("primary voice = %q, want Kore", v)
	}
	if v := secondary.SynthesizeCalls[0].Req.Voice; v != "" {
		t.Errorf("secondary voice = %q, want default", v)
	}
	if got := f.Voices(); len(got) != 2 || got[0] != "Kore" {
		t.Errorf("Voices = %v", got)
	}
}

func TestTranscriber_AllFail(t *testing.T) {
	errDown := errors.New("down")
	f := NewTranscriber("whisper", &sttmock.Provider{TranscribeErr: errDown}, GroupConfig{})
	f.Add("gemini", &sttmock.Provider{TranscribeErr: errDown})

	_, err := f.Transcribe(context.Background(), stt.Request{Audio: []byte("RIFF"), MIMEType: "audio/wav"})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errDown) {
		t.Fatalf("got %v", err)
	}
}

func TestTranscriber_Primary(t *testing.T) {
	primary := &sttmock.Provider{Result: &stt.Transcript{Text: "the mitochondria"}}
	secondary := &sttmock.Provider{}
	f := NewTranscriber("whisper", primary, GroupConfig{})
	f.Add("gemini", secondary)

	got, err := f.Transcribe(context.Background(), stt.Request{Audio: []byte("RIFF")})
	if err != nil || got.Text != "the mitochondria" {
		t.Fatalf("got %+v, %v", got, err)
	}
	if secondary.CallCount() != 0 {
		t.Error("secondary called although primary succeeded")
	}
}

func TestImages_Generate(t *testing.T) {
	primary := &imagemock.Provider{GenerateErr: errors.New("safety filter")}
	secondary := &imagemock.Provider{Image: &image.Image{MIMEType: "image/png", Data: []byte("png")}}
	f := NewImages("imagen", primary, GroupConfig{})
	f.Add("backup", secondary)

	img, err := f.Generate(context.Background(), image.Request{Prompt: "a diagram of the water cycle"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q", img.MIMEType)
	}
	if len(secondary.Requests) != 1 || secondary.Requests[0].Prompt != "a diagram of the water cycle" {
		t.Errorf("secondary requests = %+v", secondary.Requests)
	}
}
