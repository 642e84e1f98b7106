package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// is applied without a restart; everything else is reported so the caller
// can say that a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProvidersChanged lists the provider kinds whose entry changed, in the
	// order live, llm, tts, stt, image.
	ProvidersChanged []string

	ListenAddrChanged bool
	AudioChanged      bool
	LiveChanged       bool
	AssistChanged     bool
}

// NeedsRestart reports whether the diff contains changes that only take
// effect after a restart.
func (d ConfigDiff) NeedsRestart() bool {
	return len(d.ProvidersChanged) > 0 || d.ListenAddrChanged || d.AudioChanged || d.LiveChanged || d.AssistChanged
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.NeedsRestart()
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ListenAddrChanged = old.Server.ListenAddr != new.Server.ListenAddr

	oldEntries, newEntries := old.Providers.entries(), new.Providers.entries()
	for i := range oldEntries {
		if !reflect.DeepEqual(*oldEntries[i].entry, *newEntries[i].entry) {
			d.ProvidersChanged = append(d.ProvidersChanged, oldEntries[i].kind)
		}
	}

	d.AudioChanged = old.Audio != new.Audio
	d.LiveChanged = old.Live != new.Live
	d.AssistChanged = old.Assist != new.Assist
	return d
}
