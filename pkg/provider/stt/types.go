package stt

import (
	"mime"
	"path/filepath"
	"strings"
)

// Request is a single transcription request.
type Request struct {
	// Audio is the encoded recording.
	Audio []byte

	// MIMEType describes Audio, e.g. "audio/wav" or "audio/mpeg".
	MIMEType string

	// Language is an optional ISO-639-1 hint such as "en" or "de". Empty
	// lets the provider detect the language.
	Language string
}

// Transcript is the result of a transcription.
type Transcript struct {
	// Text is the transcribed speech.
	Text string

	// Language is the detected or requested language, when reported.
	Language string
}

// MIMETypeFor guesses the audio media type from a file name. Unknown
// extensions map to "application/octet-stream".
func MIMETypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".flac":
		return "audio/flac"
	case ".pcm":
		return "audio/pcm"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// FileExtension returns a file name extension for a media type, the
// inverse of MIMETypeFor for the supported formats.
func FileExtension(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/flac":
		return ".flac"
	default:
		return ".bin"
	}
}
