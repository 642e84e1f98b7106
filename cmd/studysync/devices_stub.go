//go:build !portaudio

package main

import (
	"context"
	"fmt"

	"github.com/MrWong99/studysync/pkg/audio"
)

var errNoAudioSupport = fmt.Errorf("%w: studysync was built without audio device support (rebuild with -tags portaudio)", audio.ErrPermission)

// devices returns devices that refuse to open, so live conversations and
// playback fail with a permission error instead of hanging.
func devices() (audio.InputDevice, audio.OutputDevice) {
	return unsupportedInput{}, unsupportedOutput{}
}

type unsupportedInput struct{}

func (unsupportedInput) Open(context.Context, audio.InputConfig) (audio.InputStream, error) {
	return nil, errNoAudioSupport
}

type unsupportedOutput struct{}

func (unsupportedOutput) Open(context.Context, audio.OutputConfig, func([]float32)) (audio.OutputStream, error) {
	return nil, errNoAudioSupport
}
