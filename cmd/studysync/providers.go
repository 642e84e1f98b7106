package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"github.com/MrWong99/studysync/internal/app"
	"github.com/MrWong99/studysync/internal/config"
	"github.com/MrWong99/studysync/internal/observe"
	"github.com/MrWong99/studysync/internal/resilience"
	"github.com/MrWong99/studysync/pkg/provider/image"
	imagegemini "github.com/MrWong99/studysync/pkg/provider/image/gemini"
	"github.com/MrWong99/studysync/pkg/provider/live"
	livegemini "github.com/MrWong99/studysync/pkg/provider/live/gemini"
	liveopenai "github.com/MrWong99/studysync/pkg/provider/live/openai"
	"github.com/MrWong99/studysync/pkg/provider/llm"
	"github.com/MrWong99/studysync/pkg/provider/llm/anyllm"
	llmgemini "github.com/MrWong99/studysync/pkg/provider/llm/gemini"
	llmopenai "github.com/MrWong99/studysync/pkg/provider/llm/openai"
	"github.com/MrWong99/studysync/pkg/provider/stt"
	sttgemini "github.com/MrWong99/studysync/pkg/provider/stt/gemini"
	sttopenai "github.com/MrWong99/studysync/pkg/provider/stt/openai"
	"github.com/MrWong99/studysync/pkg/provider/tts"
	ttsgemini "github.com/MrWong99/studysync/pkg/provider/tts/gemini"
	ttsopenai "github.com/MrWong99/studysync/pkg/provider/tts/openai"
)

// anyllmBackends are the text backends served through any-llm-go. gemini
// and openai have native implementations with attachment support.
var anyllmBackends = []string{"anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders registers every provider implementation shipped
// with studysync.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []livegemini.Option
		if entry.Model != "" {
			opts = append(opts, livegemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, livegemini.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "keepalive"); d > 0 {
			opts = append(opts, livegemini.WithKeepalive(d))
		}
		return livegemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []liveopenai.Option
		if entry.Model != "" {
			opts = append(opts, liveopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, liveopenai.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "keepalive"); d > 0 {
			opts = append(opts, liveopenai.WithKeepalive(d))
		}
		return liveopenai.New(entry.APIKey, opts...), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		client, err := genaiClient(entry)
		if err != nil {
			return nil, err
		}
		return llmgemini.NewFromClient(client, entry.Model), nil
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range anyllmBackends {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("gemini", func(entry config.ProviderEntry) (tts.Provider, error) {
		client, err := genaiClient(entry)
		if err != nil {
			return nil, err
		}
		return ttsgemini.New(client, entry.Model), nil
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		return ttsopenai.New(entry.APIKey, entry.Model, openaiOptions(entry)...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("gemini", func(entry config.ProviderEntry) (stt.Provider, error) {
		client, err := genaiClient(entry)
		if err != nil {
			return nil, err
		}
		return sttgemini.New(client, entry.Model), nil
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		return sttopenai.New(entry.APIKey, entry.Model, openaiOptions(entry)...)
	})

	// ── Image ─────────────────────────────────────────────────────────────────

	reg.RegisterImage("gemini", func(entry config.ProviderEntry) (image.Provider, error) {
		client, err := genaiClient(entry)
		if err != nil {
			return nil, err
		}
		return imagegemini.New(client, entry.Model), nil
	})

	for _, kind := range []string{"live", "llm", "tts", "stt", "image"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. Every chained provider is wrapped in a resilience group so that
// fallbacks take over when the primary fails and each backend call is
// measured.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers

	if pc.Live.Configured() {
		p, err := reg.CreateLive(pc.Live)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not available, skipping", "kind", "live", "name", pc.Live.Name)
		case err != nil:
			return nil, fmt.Errorf("create live provider %q: %w", pc.Live.Name, err)
		default:
			ps.Live = p
			slog.Info("provider created", "kind", "live", "name", pc.Live.Name)
		}
	}

	var err error
	if ps.LLM, err = buildChain("llm", pc.LLM, reg.CreateLLM, resilience.NewLLM, m); err != nil {
		return nil, err
	}
	if ps.TTS, err = buildChain("tts", pc.TTS, reg.CreateTTS, resilience.NewSpeech, m); err != nil {
		return nil, err
	}
	if ps.STT, err = buildChain("stt", pc.STT, reg.CreateSTT, resilience.NewTranscriber, m); err != nil {
		return nil, err
	}
	if ps.Image, err = buildChain("image", pc.Image, reg.CreateImage, resilience.NewImages, m); err != nil {
		return nil, err
	}
	return ps, nil
}

// chain is a resilience wrapper that accepts further backends.
type chain[T any] interface {
	Add(name string, backend T)
}

// buildChain creates the primary provider of entry and its fallbacks. It
// returns the zero T when entry is not configured or its primary is not
// registered.
func buildChain[T any, W chain[T]](
	kind string,
	entry config.ProviderEntry,
	create func(config.ProviderEntry) (T, error),
	wrap func(string, T, resilience.GroupConfig) W,
	m *observe.Metrics,
) (T, error) {
	var zero T
	if !entry.Configured() {
		return zero, nil
	}

	primary, err := create(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not available, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}

	gcfg := resilience.GroupConfig{
		Observer: func(ctx context.Context, backend string, d time.Duration, err error) {
			m.RecordProviderRequest(ctx, backend, kind, d, err)
		},
	}
	w := wrap(backendLabel(entry), primary, gcfg)
	for i, fb := range entry.Fallbacks {
		p, err := create(fb)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not available, skipping", "kind", kind, "name", fb.Name, "index", i)
			continue
		}
		if err != nil {
			return zero, fmt.Errorf("create %s fallback %q: %w", kind, fb.Name, err)
		}
		w.Add(backendLabel(fb), p)
	}

	slog.Info("provider created", "kind", kind, "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	// W is one of the resilience wrappers, all of which implement T.
	return any(w).(T), nil
}

// backendLabel names a backend in logs, metrics and breaker state.
func backendLabel(entry config.ProviderEntry) string {
	if entry.Model == "" {
		return entry.Name
	}
	return entry.Name + "/" + entry.Model
}

// genaiClient creates a Gemini API client for entry.
func genaiClient(entry config.ProviderEntry) (*genai.Client, error) {
	var opts []llmgemini.Option
	if entry.BaseURL != "" {
		opts = append(opts, llmgemini.WithBaseURL(entry.BaseURL))
	}
	return llmgemini.NewClient(context.Background(), entry.APIKey, opts...)
}

// openaiOptions translates entry settings into openai-go request options.
func openaiOptions(entry config.ProviderEntry) []option.RequestOption {
	var opts []option.RequestOption
	if entry.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(entry.BaseURL))
	}
	if org := optString(entry.Options, "organization"); org != "" {
		opts = append(opts, option.WithOrganization(org))
	}
	return opts
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration extracts a duration such as "20s" from a provider Options
// map. Returns 0 when the key is absent or does not parse.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
