// Package config provides the configuration schema, loader, provider
// registry and file watcher for StudySync.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for StudySync.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Live      LiveConfig      `yaml:"live"`
	Assist    AssistConfig    `yaml:"assist"`
}

// ServerConfig holds the metrics/health listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the metrics and health endpoints
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is applied live on config reload.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the backend for each capability. Each entry names
// a provider registered in the [Registry].
type ProvidersConfig struct {
	Live  ProviderEntry `yaml:"live"`
	LLM   ProviderEntry `yaml:"llm"`
	TTS   ProviderEntry `yaml:"tts"`
	STT   ProviderEntry `yaml:"stt"`
	Image ProviderEntry `yaml:"image"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. Name selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini",
	// "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API. A value of the form
	// "$NAME" or "${NAME}" is read from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Fallbacks of fallbacks are ignored. Not supported
	// for the live provider.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Configured reports whether the entry names a provider.
func (e ProviderEntry) Configured() bool {
	return e.Name != ""
}

// AudioConfig sets the audio formats of the live pipeline. Zero values take
// the defaults listed per field.
type AudioConfig struct {
	// InputSampleRate is the microphone rate in Hz. Default: 16000.
	InputSampleRate int `yaml:"input_sample_rate"`

	// FrameSize is the number of samples per captured frame. Default: 4096.
	FrameSize int `yaml:"frame_size"`

	// OutputSampleRate is the playback rate in Hz. Default: 24000.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// OutputGain scales the played samples. Default: 1.
	OutputGain float32 `yaml:"output_gain"`

	// SendQueue is the number of captured frames buffered while the network
	// is slow. Frames beyond it are dropped. Default: 16.
	SendQueue int `yaml:"send_queue"`
}

// LiveConfig configures live conversations.
type LiveConfig struct {
	// Instructions is the system instruction given to the live model.
	Instructions string `yaml:"instructions"`

	// Voice selects a prebuilt voice of the live provider.
	Voice string `yaml:"voice"`
}

// AssistConfig configures the one-shot features.
type AssistConfig struct {
	// Language is the default output language (e.g., "English", "de").
	// Default: English.
	Language string `yaml:"language"`

	// Voice is the default read-aloud voice of the TTS provider.
	Voice string `yaml:"voice"`
}
