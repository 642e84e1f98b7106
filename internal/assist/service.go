// Package assist implements the one-shot study features: the text tools
// (summaries, translations, practice questions and the like), image
// generation, lecture transcription, read-aloud speech and a multi-turn
// tutor chat.
//
// A [Service] is bound to one provider per capability. Providers may be
// failover wrappers from internal/resilience; the service does not care.
// All methods are safe for concurrent use.
package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/studysync/internal/observe"
	"github.com/MrWong99/studysync/pkg/audio"
	"github.com/MrWong99/studysync/pkg/provider/image"
	"github.com/MrWong99/studysync/pkg/provider/llm"
	"github.com/MrWong99/studysync/pkg/provider/stt"
	"github.com/MrWong99/studysync/pkg/provider/tts"
)

var (
	// ErrEmptyInput is returned when a feature receives no text to work on.
	ErrEmptyInput = errors.New("assist: input is empty")

	// ErrAttachmentRequired is returned when a feature that needs a file
	// receives none.
	ErrAttachmentRequired = errors.New("assist: feature requires an attachment")

	// ErrUnsupportedFeature is returned by Process for features that are not
	// text features.
	ErrUnsupportedFeature = errors.New("assist: feature is not a text feature")

	// ErrNoProvider is returned when the provider a call needs is not
	// configured.
	ErrNoProvider = errors.New("assist: provider not configured")
)

// Attachment is a file sent along with a text request.
type Attachment = llm.Attachment

// Request is the input of a text feature.
type Request struct {
	Feature Feature
	Text    string

	// Language selects the output language. Empty uses the service default.
	Language Language

	// Attachment is optional for most features and required for Multimodal.
	Attachment *Attachment
}

// Service runs the study features against the configured providers.
type Service struct {
	text     llm.Provider
	speech   tts.Provider
	listener stt.Provider
	images   image.Provider

	language Language
	voice    string
	log      *slog.Logger
	metrics  *observe.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithSpeech sets the text-to-speech provider used by Speak.
func WithSpeech(p tts.Provider) Option {
	return func(s *Service) { s.speech = p }
}

// WithTranscriber sets the speech-to-text provider used by Transcribe.
func WithTranscriber(p stt.Provider) Option {
	return func(s *Service) { s.listener = p }
}

// WithImages sets the image provider used by GenerateImage.
func WithImages(p image.Provider) Option {
	return func(s *Service) { s.images = p }
}

// WithLanguage sets the default output language. Default: English.
func WithLanguage(l Language) Option {
	return func(s *Service) { s.language = l }
}

// WithVoice sets the default voice for Speak.
func WithVoice(v string) Option {
	return func(s *Service) { s.voice = v }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New returns a Service that answers text features with text. text may be
// nil when only speech, transcription or image features are used.
func New(text llm.Provider, opts ...Option) *Service {
	s := &Service{text: text, language: English}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Process runs a text feature and returns the model's answer.
func (s *Service) Process(ctx context.Context, req Request) (result string, err error) {
	ctx, done := s.track(ctx, req.Feature)
	defer func() { done(err) }()

	def, ok := Lookup(req.Feature)
	if !ok {
		return "", fmt.Errorf("assist: unknown feature %q", req.Feature)
	}
	if !def.Text {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFeature, req.Feature)
	}
	if s.text == nil {
		return "", fmt.Errorf("%w: llm", ErrNoProvider)
	}
	if def.NeedsAttachment && req.Attachment == nil {
		return "", fmt.Errorf("%w: %s", ErrAttachmentRequired, req.Feature)
	}
	if req.Attachment != nil {
		if !def.SupportsAttachment {
			return "", fmt.Errorf("assist: %s does not take attachments: %w", req.Feature, llm.ErrNoAttachments)
		}
		if err := s.checkAttachment(*req.Attachment); err != nil {
			return "", err
		}
	}

	lang := req.Language
	if lang == "" {
		lang = s.language
	}
	system, user := buildPrompt(req.Feature, req.Text, lang)
	if user == "" {
		return "", ErrEmptyInput
	}

	msg := llm.Message{Role: llm.RoleUser, Content: user}
	if req.Attachment != nil {
		msg.Attachments = []llm.Attachment{*req.Attachment}
	}
	resp, err := s.text.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{msg},
		Reasoning:    req.Feature == ComplexReasoning,
	})
	if err != nil {
		return "", fmt.Errorf("assist: %s: %w", req.Feature, err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func (s *Service) checkAttachment(a Attachment) error {
	if len(a.Data) == 0 {
		return fmt.Errorf("%w: attachment is empty", ErrEmptyInput)
	}
	caps := s.text.Capabilities()
	if a.IsImage() && !caps.SupportsVision || !a.IsImage() && !caps.SupportsDocuments {
		return fmt.Errorf("assist: %s: %w", a.MIMEType, llm.ErrNoAttachments)
	}
	return nil
}

// GenerateImage renders one picture from prompt.
func (s *Service) GenerateImage(ctx context.Context, prompt string) (img *image.Image, err error) {
	ctx, done := s.track(ctx, GenerateImage)
	defer func() { done(err) }()

	if s.images == nil {
		return nil, fmt.Errorf("%w: image", ErrNoProvider)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyInput
	}
	img, err = s.images.Generate(ctx, image.Request{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("assist: generate image: %w", err)
	}
	return img, nil
}

// Transcribe returns the text spoken in a recording. mimeType describes the
// encoding; lang is an optional hint.
func (s *Service) Transcribe(ctx context.Context, recording []byte, mimeType string, lang Language) (text string, err error) {
	ctx, done := s.track(ctx, Transcribe)
	defer func() { done(err) }()

	if s.listener == nil {
		return "", fmt.Errorf("%w: stt", ErrNoProvider)
	}
	if len(recording) == 0 {
		return "", fmt.Errorf("%w: %s", ErrAttachmentRequired, Transcribe)
	}
	t, err := s.listener.Transcribe(ctx, stt.Request{
		Audio:    recording,
		MIMEType: mimeType,
		Language: lang.Code(),
	})
	if err != nil {
		return "", fmt.Errorf("assist: transcribe: %w", err)
	}
	return strings.TrimSpace(t.Text), nil
}

// Speak reads text aloud and returns the decoded clip as a mono buffer at
// [audio.PlaybackSampleRate], allocated through alloc. An empty voice uses
// the service default.
func (s *Service) Speak(ctx context.Context, text, voice string, alloc audio.Allocator) (buf *audio.Buffer, err error) {
	ctx, done := s.track(ctx, "Speak")
	defer func() { done(err) }()

	if s.speech == nil {
		return nil, fmt.Errorf("%w: tts", ErrNoProvider)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if voice == "" {
		voice = s.voice
	}
	clip, err := s.speech.Synthesize(ctx, tts.Request{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("assist: synthesize: %w", err)
	}

	pcm := clip.PCM
	if clip.SampleRate != audio.PlaybackSampleRate && len(pcm)%2 == 0 {
		pcm = audio.ResampleMono16(pcm, clip.SampleRate, audio.PlaybackSampleRate)
	}
	buf, err = audio.DecodeAudioData(pcm, alloc, audio.PlaybackSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("assist: speech: %w", err)
	}
	s.log.Debug("speech decoded", "voice", voice, "seconds", buf.Duration())
	return buf, nil
}

// ErrorText renders err for display to the student. It returns "" for a
// nil error.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	return "An error occurred: " + err.Error()
}

// track opens a span for one feature call and returns the function that
// records its outcome.
func (s *Service) track(ctx context.Context, f Feature) (context.Context, func(error)) {
	ctx, span := observe.StartSpan(ctx, "assist.run",
		trace.WithAttributes(attribute.String("feature", string(f))))
	start := time.Now()
	return ctx, func(err error) {
		d := time.Since(start)
		s.metrics.RecordAssist(ctx, string(f), d, err)
		if err != nil {
			observe.Logger(ctx, s.log).Warn("assist feature failed", "feature", string(f), "duration", d, "error", err)
		}
		observe.EndSpan(span, err)
	}
}
