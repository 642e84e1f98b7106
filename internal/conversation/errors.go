package conversation

import (
	"errors"

	"github.com/MrWong99/studysync/pkg/audio"
	"github.com/MrWong99/studysync/pkg/provider/live"
)

// Errors reported by the conversation pipeline. Check them with errors.Is.
var (
	// ErrPermission: the microphone or speaker could not be acquired.
	ErrPermission = audio.ErrPermission

	// ErrConnection: the live service could not be reached or dropped the
	// connection.
	ErrConnection = live.ErrConnection

	// ErrDecode: a received audio fragment was malformed. It is dropped and
	// never ends a session.
	ErrDecode = audio.ErrDecode

	// ErrRemote: the live service reported an error.
	ErrRemote = live.ErrRemote

	// ErrAlreadyActive is returned by Start while a session exists.
	ErrAlreadyActive = errors.New("conversation: session already active")

	// ErrAborted is returned by Start when Stop interrupted it.
	ErrAborted = errors.New("conversation: start aborted")
)

// errorKind classifies err for metrics and logs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrRemote):
		return "remote"
	case errors.Is(err, ErrConnection):
		return "connection"
	default:
		return "other"
	}
}
