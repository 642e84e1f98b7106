// Package app wires the StudySync subsystems into a running application.
//
// The App struct owns the configured providers, the assist service and the
// audio devices. Live conversations are created on demand with
// NewConversation and one-shot speech is played with Play. Shutdown stops
// every conversation the App created and runs the registered closers in
// reverse order.
//
// For testing, inject mock devices and providers; nothing in this package
// talks to the network on its own.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/studysync/internal/assist"
	"github.com/MrWong99/studysync/internal/config"
	"github.com/MrWong99/studysync/internal/conversation"
	"github.com/MrWong99/studysync/internal/health"
	"github.com/MrWong99/studysync/internal/observe"
	"github.com/MrWong99/studysync/pkg/audio"
	"github.com/MrWong99/studysync/pkg/audio/render"
	"github.com/MrWong99/studysync/pkg/provider/image"
	"github.com/MrWong99/studysync/pkg/provider/live"
	"github.com/MrWong99/studysync/pkg/provider/llm"
	"github.com/MrWong99/studysync/pkg/provider/stt"
	"github.com/MrWong99/studysync/pkg/provider/tts"
)

// ErrNotConfigured is returned when an operation needs a provider or device
// that was not supplied.
var ErrNotConfigured = errors.New("app: not configured")

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Live  live.Provider
	LLM   llm.Provider
	TTS   tts.Provider
	STT   stt.Provider
	Image image.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	mic       audio.InputDevice
	speaker   audio.OutputDevice
	log       *slog.Logger
	metrics   *observe.Metrics

	assist *assist.Service

	mu            sync.Mutex
	conversations []*conversation.Controller
	closers       []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithDevices sets the microphone and speaker. Either may be nil, in which
// case live conversations and playback report [ErrNotConfigured].
func WithDevices(mic audio.InputDevice, speaker audio.OutputDevice) Option {
	return func(a *App) {
		a.mic = mic
		a.speaker = speaker
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCloser registers fn to run during Shutdown.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App from a validated config and the providers built from
// it. The assist service is created when a text provider is present.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	lang := assist.English
	if cfg.Assist.Language != "" {
		l, err := assist.ParseLanguage(cfg.Assist.Language)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		lang = l
	}

	if providers.LLM != nil {
		a.assist = assist.New(providers.LLM,
			assist.WithSpeech(providers.TTS),
			assist.WithTranscriber(providers.STT),
			assist.WithImages(providers.Image),
			assist.WithLanguage(lang),
			assist.WithVoice(cfg.Assist.Voice),
			assist.WithLogger(a.log),
			assist.WithMetrics(a.metrics),
		)
	}
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Assist returns the assist service. It fails with [ErrNotConfigured] when
// no text provider is configured.
func (a *App) Assist() (*assist.Service, error) {
	if a.assist == nil {
		return nil, fmt.Errorf("%w: providers.llm", ErrNotConfigured)
	}
	return a.assist, nil
}

// SessionConfig returns the live session parameters from the config.
// Transcription is always requested in both directions.
func (a *App) SessionConfig() live.SessionConfig {
	return live.SessionConfig{
		Instructions:        a.cfg.Live.Instructions,
		Voice:               a.cfg.Live.Voice,
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// NewConversation creates an idle controller for a live conversation with
// the given session parameters. The controller is stopped on Shutdown.
func (a *App) NewConversation(session live.SessionConfig) (*conversation.Controller, error) {
	if a.providers.Live == nil {
		return nil, fmt.Errorf("%w: providers.live", ErrNotConfigured)
	}
	if a.mic == nil || a.speaker == nil {
		return nil, fmt.Errorf("%w: audio devices", ErrNotConfigured)
	}

	ac := a.cfg.Audio
	ctrl := conversation.New(a.providers.Live, a.mic, a.speaker, conversation.Config{
		Session: session,
		Input: audio.InputConfig{
			SampleRate: ac.InputSampleRate,
			FrameSize:  ac.FrameSize,
		},
		OutputSampleRate: ac.OutputSampleRate,
		OutputGain:       ac.OutputGain,
		SendQueue:        ac.SendQueue,
	}, conversation.WithLogger(a.log), conversation.WithMetrics(a.metrics))

	a.mu.Lock()
	a.conversations = append(a.conversations, ctrl)
	a.mu.Unlock()
	return ctrl, nil
}

// Play renders buf on the speaker and blocks until it finished or ctx is
// done.
func (a *App) Play(ctx context.Context, buf *audio.Buffer) error {
	if a.speaker == nil {
		return fmt.Errorf("%w: audio devices", ErrNotConfigured)
	}
	gain := a.cfg.Audio.OutputGain
	if gain <= 0 {
		gain = 1
	}
	rc := render.New(buf.SampleRate, render.WithGain(gain))
	defer rc.Close()

	done := make(chan struct{})
	if _, err := rc.Schedule(buf, 0, func() { close(done) }); err != nil {
		return fmt.Errorf("app: schedule playback: %w", err)
	}
	out, err := a.speaker.Open(ctx, audio.OutputConfig{SampleRate: buf.SampleRate}, rc.Render)
	if err != nil {
		return fmt.Errorf("app: open speaker: %w", err)
	}
	defer out.Close()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthCheckers returns one readiness checker per provider slot named in
// the config.
func (a *App) HealthCheckers() []health.Checker {
	pc := a.cfg.Providers
	slots := []struct {
		kind  string
		named bool
		ok    bool
	}{
		{"live", pc.Live.Name != "", a.providers.Live != nil},
		{"llm", pc.LLM.Name != "", a.providers.LLM != nil},
		{"tts", pc.TTS.Name != "", a.providers.TTS != nil},
		{"stt", pc.STT.Name != "", a.providers.STT != nil},
		{"image", pc.Image.Name != "", a.providers.Image != nil},
	}
	checkers := []health.Checker{health.Configured("config", a.cfg != nil)}
	for _, s := range slots {
		if s.named {
			checkers = append(checkers, health.Configured(s.kind, s.ok))
		}
	}
	return checkers
}

// Shutdown stops every conversation and runs the closers in reverse
// registration order. It is safe to call more than once.
func (a *App) Shutdown() error {
	var err error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		convs := a.conversations
		closers := slices.Clone(a.closers)
		a.mu.Unlock()

		for _, c := range convs {
			c.Stop()
		}
		var errs []error
		for _, fn := range slices.Backward(closers) {
			if cerr := fn(); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		err = errors.Join(errs...)
		a.log.Info("app shut down", "conversations", len(convs))
	})
	return err
}
