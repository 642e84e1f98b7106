package tts

import "time"

// Request is a single synthesis request.
type Request struct {
	// Text is the text to speak.
	Text string

	// Voice is a provider-specific prebuilt voice name.
	Voice string
}

// Speech is a synthesized clip.
type Speech struct {
	// PCM holds 16-bit little-endian mono samples.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int
}

// Duration returns the playing time of the clip.
func (s *Speech) Duration() time.Duration {
	if s == nil || s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.PCM)/2) * time.Second / time.Duration(s.SampleRate)
}
