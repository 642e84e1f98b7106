package live

import "sync"

// EventKind tags a server [Event].
type EventKind int

const (
	// EventUserText carries a fragment of the transcript of the user's speech.
	EventUserText EventKind = iota + 1

	// EventModelText carries a fragment of the transcript of the model's speech.
	EventModelText

	// EventTurnComplete marks the end of the model's response for the
	// current exchange.
	EventTurnComplete

	// EventAudio carries one base64 fragment of 16-bit PCM model audio.
	EventAudio

	// EventError is terminal: the session failed.
	EventError

	// EventClose is terminal: the remote side ended the session.
	EventClose
)

// String returns the human-readable name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventUserText:
		return "user_text"
	case EventModelText:
		return "model_text"
	case EventTurnComplete:
		return "turn_complete"
	case EventAudio:
		return "audio"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events follow an event of this kind.
func (k EventKind) Terminal() bool {
	return k == EventError || k == EventClose
}

// Event is the tagged union of everything a live session reports. Only the
// field matching Kind is set.
type Event struct {
	Kind EventKind

	// Text is set for EventUserText and EventModelText.
	Text string

	// Audio is the base64 payload of an EventAudio. Decoding is left to the
	// consumer so that a corrupt fragment can be dropped on its own.
	Audio string

	// SampleRate of the PCM inside Audio.
	SampleRate int

	// Err is set for EventError.
	Err error
}

// Emitter delivers a session's events to its consumer. A provider creates
// one per session and calls Emit and Finish from its receive goroutine.
type Emitter struct {
	ch   chan Event
	done <-chan struct{}
	once sync.Once
}

// NewEmitter creates an emitter with the given channel buffer. Emission
// stops as soon as done is closed.
func NewEmitter(buffer int, done <-chan struct{}) *Emitter {
	return &Emitter{ch: make(chan Event, buffer), done: done}
}

// Events returns the consumer side of the emitter.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Emit delivers ev, blocking while the buffer is full. It reports false when
// the session was closed before the event could be delivered.
func (e *Emitter) Emit(ev Event) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.ch <- ev:
		return true
	case <-e.done:
		return false
	}
}

// Finish emits the optional terminal event and closes the channel. Only the
// first call has an effect.
func (e *Emitter) Finish(terminal *Event) {
	e.once.Do(func() {
		if terminal != nil {
			e.Emit(*terminal)
		}
		close(e.ch)
	})
}
