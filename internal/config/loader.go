package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list but does not reject them, so that
// providers registered by other code keep working.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini", "openai"},
	"llm":   {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":   {"gemini", "openai"},
	"stt":   {"gemini", "openai"},
	"image": {"gemini"},
}

// Supported output languages of the assist features, by name and code.
var validLanguages = []string{
	"english", "spanish", "french", "german", "mandarin chinese", "chinese", "japanese",
	"en", "es", "fr", "de", "zh", "ja",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references in API keys, applies defaults and validates the result.
// An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.expandSecrets()
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero audio and log settings with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	a := &c.Audio
	if a.InputSampleRate == 0 {
		a.InputSampleRate = 16000
	}
	if a.FrameSize == 0 {
		a.FrameSize = 4096
	}
	if a.OutputSampleRate == 0 {
		a.OutputSampleRate = 24000
	}
	if a.OutputGain == 0 {
		a.OutputGain = 1
	}
	if a.SendQueue == 0 {
		a.SendQueue = 16
	}
	if c.Assist.Language == "" {
		c.Assist.Language = "English"
	}
}

func (c *Config) expandSecrets() {
	for _, e := range c.Providers.entries() {
		expandEntry(e.entry)
	}
}

func expandEntry(e *ProviderEntry) {
	e.APIKey = expandEnv(e.APIKey)
	for i := range e.Fallbacks {
		expandEntry(&e.Fallbacks[i])
	}
}

// expandEnv resolves "$NAME" and "${NAME}". Other values are returned as is.
func expandEnv(v string) string {
	if !strings.HasPrefix(v, "$") {
		return v
	}
	name := strings.TrimPrefix(v, "$")
	if strings.HasPrefix(name, "{") && strings.HasSuffix(name, "}") {
		name = name[1 : len(name)-1]
	}
	return os.Getenv(name)
}

type namedEntry struct {
	kind  string
	entry *ProviderEntry
}

func (p *ProvidersConfig) entries() []namedEntry {
	return []namedEntry{
		{"live", &p.Live},
		{"llm", &p.LLM},
		{"tts", &p.TTS},
		{"stt", &p.STT},
		{"image", &p.Image},
	}
}

// Validate checks that cfg contains a coherent set of values. Hard errors
// are joined into the returned error; soft issues are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	for _, ne := range cfg.Providers.entries() {
		errs = append(errs, validateEntry(ne.kind, "providers."+ne.kind, *ne.entry)...)
		if ne.kind == "live" && len(ne.entry.Fallbacks) > 0 {
			errs = append(errs, errors.New("providers.live.fallbacks is not supported"))
		}
	}
	if !cfg.Providers.Live.Configured() && !cfg.Providers.LLM.Configured() {
		slog.Warn("neither providers.live nor providers.llm is configured; only speech, transcription and image commands can run")
	}

	a := cfg.Audio
	if a.InputSampleRate < 8000 || a.InputSampleRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d is out of range [8000, 48000]", a.InputSampleRate))
	}
	if a.OutputSampleRate < 8000 || a.OutputSampleRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d is out of range [8000, 48000]", a.OutputSampleRate))
	}
	if a.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", a.FrameSize))
	} else if a.FrameSize&(a.FrameSize-1) != 0 {
		slog.Warn("audio.frame_size is not a power of two; some devices round it", "frame_size", a.FrameSize)
	}
	if a.OutputGain < 0 || a.OutputGain > 4 {
		errs = append(errs, fmt.Errorf("audio.output_gain %.2f is out of range [0, 4]", a.OutputGain))
	}
	if a.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("audio.send_queue %d must not be negative", a.SendQueue))
	}

	if lang := strings.ToLower(strings.TrimSpace(cfg.Assist.Language)); lang != "" && !slices.Contains(validLanguages, lang) {
		errs = append(errs, fmt.Errorf("assist.language %q is not supported", cfg.Assist.Language))
	}

	return errors.Join(errs...)
}

func validateEntry(kind, path string, e ProviderEntry) []error {
	var errs []error
	if !e.Configured() {
		if e.APIKey != "" || e.Model != "" || len(e.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.name is required when the provider is configured", path))
		}
		return errs
	}
	validateProviderName(kind, e.Name)
	if e.APIKey == "" && e.Name != "ollama" && e.Name != "llamacpp" && e.Name != "llamafile" {
		slog.Warn("provider has no api_key; requests will likely be rejected", "kind", kind, "name", e.Name)
	}
	for i, fb := range e.Fallbacks {
		fp := fmt.Sprintf("%s.fallbacks[%d]", path, i)
		if !fb.Configured() {
			errs = append(errs, fmt.Errorf("%s.name is required", fp))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			slog.Warn("nested fallbacks are ignored", "path", fp)
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is not in the
// [ValidProviderNames] list for kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
