//go:build portaudio

package main

import (
	"github.com/MrWong99/studysync/pkg/audio"
	"github.com/MrWong99/studysync/pkg/audio/portaudio"
)

// devices returns the system default microphone and speaker.
func devices() (audio.InputDevice, audio.OutputDevice) {
	return portaudio.Input{}, portaudio.Output{}
}
