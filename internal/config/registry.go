package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/studysync/pkg/provider/image"
	"github.com/MrWong99/studysync/pkg/provider/live"
	"github.com/MrWong99/studysync/pkg/provider/llm"
	"github.com/MrWong99/studysync/pkg/provider/stt"
	"github.com/MrWong99/studysync/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructors for each provider
// kind. Registering a name twice replaces the earlier factory. It is safe
// for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	live  factories[live.Provider]
	llm   factories[llm.Provider]
	tts   factories[tts.Provider]
	stt   factories[stt.Provider]
	image factories[image.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:  newFactories[live.Provider]("live"),
		llm:   newFactories[llm.Provider]("llm"),
		tts:   newFactories[tts.Provider]("tts"),
		stt:   newFactories[stt.Provider]("stt"),
		image: newFactories[image.Provider]("image"),
	}
}

// RegisterLive registers a live provider factory under name.
func (r *Registry) RegisterLive(name string, f Factory[live.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live.m[name] = f
}

// RegisterLLM registers a text provider factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

// RegisterTTS registers a speech provider factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

// RegisterSTT registers a transcription provider factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterImage registers an image provider factory under name.
func (r *Registry) RegisterImage(name string, f Factory[image.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image.m[name] = f
}

// CreateLive instantiates the live provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live.create(entry)
}

// CreateLLM instantiates the text provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateTTS instantiates the speech provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateSTT instantiates the transcription provider registered under
// entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateImage instantiates the image provider registered under entry.Name.
func (r *Registry) CreateImage(entry ProviderEntry) (image.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.image.create(entry)
}

// Names returns the registered provider names of kind ("live", "llm",
// "tts", "stt" or "image") in sorted order.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "live":
		return r.live.names()
	case "llm":
		return r.llm.names()
	case "tts":
		return r.tts.names()
	case "stt":
		return r.stt.names()
	case "image":
		return r.image.names()
	}
	return nil
}
