// Package live defines the Provider interface for duplex voice-conversation
// backends.
//
// A live provider connects to a remote model that accepts a continuous
// stream of microphone audio and answers with streamed audio plus partial
// transcripts of both directions. Unlike a request/response API there is no
// pairing between what is sent and what arrives: the session is a pure event
// stream, delivered on a single channel of [Event] values.
//
// Implementations must be safe for concurrent use: SendAudio may be called
// from one goroutine while another consumes Events and a third calls Close.
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/studysync/pkg/audio"
)

var (
	// ErrConnection reports a failure to open, negotiate or keep the
	// connection to the remote service.
	ErrConnection = errors.New("live: connection failed")

	// ErrRemote reports an error signalled by the remote service itself.
	ErrRemote = errors.New("live: remote service error")

	// ErrClosed is returned by SendAudio after the session has ended.
	ErrClosed = errors.New("live: session closed")
)

// SessionConfig holds the parameters for a new live session.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Instructions is an optional system instruction for the model.
	Instructions string

	// Voice selects a provider-specific prebuilt voice. Empty uses the
	// provider default.
	Voice string

	// InputTranscription requests partial transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests partial transcripts of the model's speech.
	OutputTranscription bool
}

// Provider opens live sessions.
type Provider interface {
	// Connect dials the remote service and completes its setup handshake.
	// It returns only after the remote side has accepted the session, so
	// SendAudio is valid as soon as Connect returns. Failures wrap
	// [ErrConnection]. Cancelling ctx aborts the handshake.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Session is an open duplex conversation.
type Session interface {
	// SendAudio streams one captured frame to the model. It returns
	// [ErrClosed] once the session has ended.
	SendAudio(frame audio.EncodedFrame) error

	// Events returns the channel on which server events arrive. The channel
	// is closed after a terminal event (EventError or EventClose) or after
	// Close. It never yields events out of their arrival order.
	Events() <-chan Event

	// Close terminates the session. No terminal event is emitted for a local
	// close. Close is idempotent.
	Close() error
}
